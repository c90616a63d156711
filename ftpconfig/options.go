// Package ftpconfig declares the operation descriptor the engine is
// driven by (spec.md §6 "Control-CLI surface": host, port, credentials,
// proxy, TLS policy, passive/active, compression, transfer mode,
// listings-cache policy, concurrent-connections cap, speed limit, LIST
// command template, init commands, root of work).
//
// Grounded on the teacher's declarative Options-struct-plus-config-tag
// idiom (backend/ftp/ftp.go's Options), generalised from fs.Option
// registration to pflag.FlagSet binding for the CLI harness.
package ftpconfig

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Options is the full set of knobs one engine operation is configured
// with. The `config` tag names the on-disk key; BindFlags registers the
// CLI flags by hand under hyphenated long names.
type Options struct {
	Host              string        `config:"host"`
	Port              int           `config:"port"`
	User              string        `config:"user"`
	Pass              string        `config:"pass"`
	Account           string        `config:"account"`
	TLS               bool          `config:"tls"`
	ExplicitTLS       bool          `config:"explicit_tls"`
	SkipVerifyCert    bool          `config:"no_check_certificate"`
	Passive           bool          `config:"passive"`
	DisableEPSV       bool          `config:"disable_epsv"`
	Compress          bool          `config:"compress"`
	ASCII             bool          `config:"ascii"`
	Connections       int           `config:"connections"`
	SpeedLimitBytes   int64         `config:"speed_limit"`
	CacheListings     bool          `config:"cache_listings"`
	ListingCacheBytes int64         `config:"listing_cache_bytes"`
	ListCommand       string        `config:"list_command"`
	InitCommands      []string      `config:"init_commands"`
	ProxyHost         string        `config:"proxy_host"`
	ProxyPort         int           `config:"proxy_port"`
	ProxyUser         string        `config:"proxy_user"`
	ProxyPass         string        `config:"proxy_pass"`
	ProxyLoginScript  string        `config:"proxy_login_script"`
	NoDataTimeout     time.Duration `config:"no_data_timeout"`
	ReconnectMinSleep time.Duration `config:"reconnect_min_sleep"`
	ReconnectMaxSleep time.Duration `config:"reconnect_max_sleep"`
	Root              string        `config:"root"`
}

// Default returns the engine's baseline configuration: explicit TLS
// off, passive mode on (the conventional default for clients behind
// NAT), no compression, four connections, no speed limit, listing
// cache on with a 16MiB cap, and "LIST -a" as the LIST command.
func Default() Options {
	return Options{
		Port:              21,
		Passive:           true,
		Connections:       4,
		CacheListings:     true,
		ListingCacheBytes: 16 << 20,
		ListCommand:       "LIST -a",
		NoDataTimeout:     60 * time.Second,
		ReconnectMinSleep: 100 * time.Millisecond,
		ReconnectMaxSleep: 10 * time.Second,
	}
}

// Validate checks the fields that must hold for the worker state
// machine and transport to operate correctly.
func (o Options) Validate() error {
	if o.Host == "" {
		return fmt.Errorf("ftpconfig: host is required")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("ftpconfig: invalid port %d", o.Port)
	}
	if o.Connections <= 0 {
		return fmt.Errorf("ftpconfig: connections must be >= 1")
	}
	if o.TLS && o.ExplicitTLS {
		return fmt.Errorf("ftpconfig: implicit and explicit TLS are mutually exclusive")
	}
	if o.ProxyHost != "" && o.ProxyLoginScript == "" {
		return fmt.Errorf("ftpconfig: proxy_host set without a proxy_login_script")
	}
	return nil
}

// BindFlags registers every Options field onto fs as a CLI flag, in
// the teacher's one-flag-per-option registration style.
func BindFlags(fs *pflag.FlagSet, o *Options) {
	fs.StringVar(&o.Host, "host", o.Host, "FTP host to connect to")
	fs.IntVar(&o.Port, "port", o.Port, "FTP port number")
	fs.StringVar(&o.User, "user", o.User, "FTP username")
	fs.StringVar(&o.Pass, "pass", o.Pass, "FTP password")
	fs.StringVar(&o.Account, "account", o.Account, "FTP ACCT string")
	fs.BoolVar(&o.TLS, "tls", o.TLS, "use implicit FTPS")
	fs.BoolVar(&o.ExplicitTLS, "explicit-tls", o.ExplicitTLS, "use explicit FTPS (AUTH TLS)")
	fs.BoolVar(&o.SkipVerifyCert, "no-check-certificate", o.SkipVerifyCert, "skip TLS certificate verification")
	fs.BoolVar(&o.Passive, "passive", o.Passive, "use passive data connections")
	fs.BoolVar(&o.DisableEPSV, "disable-epsv", o.DisableEPSV, "never try EPSV, go straight to PASV")
	fs.BoolVar(&o.Compress, "compress", o.Compress, "use MODE Z compression")
	fs.BoolVar(&o.ASCII, "ascii", o.ASCII, "transfer in ASCII mode instead of binary")
	fs.IntVar(&o.Connections, "connections", o.Connections, "number of concurrent worker connections")
	fs.Int64Var(&o.SpeedLimitBytes, "speed-limit", o.SpeedLimitBytes, "global speed limit in bytes/sec, 0 for unlimited")
	fs.BoolVar(&o.CacheListings, "cache-listings", o.CacheListings, "cache directory listings across workers")
	fs.Int64Var(&o.ListingCacheBytes, "listing-cache-bytes", o.ListingCacheBytes, "listing cache byte cap")
	fs.StringVar(&o.ListCommand, "list-command", o.ListCommand, "LIST command template sent to the server")
	fs.StringArrayVar(&o.InitCommands, "init-cmd", o.InitCommands, "extra command to run once per connection, after login (repeatable)")
	fs.StringVar(&o.ProxyHost, "proxy-host", o.ProxyHost, "FTP proxy host")
	fs.IntVar(&o.ProxyPort, "proxy-port", o.ProxyPort, "FTP proxy port")
	fs.StringVar(&o.ProxyUser, "proxy-user", o.ProxyUser, "FTP proxy username")
	fs.StringVar(&o.ProxyPass, "proxy-pass", o.ProxyPass, "FTP proxy password")
	fs.StringVar(&o.ProxyLoginScript, "proxy-login-script", o.ProxyLoginScript, "FTP proxy login script")
	fs.DurationVar(&o.NoDataTimeout, "no-data-timeout", o.NoDataTimeout, "data connection idle timeout")
	fs.DurationVar(&o.ReconnectMinSleep, "reconnect-min-sleep", o.ReconnectMinSleep, "minimum reconnect backoff")
	fs.DurationVar(&o.ReconnectMaxSleep, "reconnect-max-sleep", o.ReconnectMaxSleep, "maximum reconnect backoff")
}
