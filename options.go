package sel4

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sel4go/sel4/chrome"
	"github.com/sel4go/sel4/firefox"
	"github.com/sel4go/sel4/log"
	"github.com/sel4go/sel4/provision"
)

// Options holds the per-session configuration recognized by the session
// factory. Every option toggles independently; zero values mean "driver
// default".
type Options struct {
	// Browser is the target browser name, e.g. "chromium" or "firefox".
	Browser string
	// BrowserVersion is the driver version constraint, in semver range
	// syntax. Empty means latest.
	BrowserVersion string
	// Platform is the target OS/architecture, e.g. "linux64".
	Platform string
	// Headless runs the browser without a visible window.
	Headless bool
	// WindowWidth and WindowHeight set the initial window size. Both must
	// be set or both zero.
	WindowWidth, WindowHeight int
	// Proxy is a proxy URL ("http://host:port" or "socks5://host:port"),
	// empty for a direct connection.
	Proxy string
	// ExtraArgs are additional command-line arguments passed verbatim to
	// the browser binary.
	ExtraArgs []string
	// LogLevel configures browser log collection, empty to leave the
	// driver default.
	LogLevel log.Level
}

// ParseOptions builds Options from a loosely-typed configuration mapping.
// Unrecognized keys and wrongly-typed values are rejected with a
// *ConfigError; nothing is created until the whole mapping validates.
func ParseOptions(m map[string]interface{}) (*Options, error) {
	opts := &Options{}
	for key, value := range m {
		switch key {
		case "browser":
			if err := assignString(key, value, &opts.Browser); err != nil {
				return nil, err
			}
		case "browserVersion":
			if err := assignString(key, value, &opts.BrowserVersion); err != nil {
				return nil, err
			}
		case "platform":
			if err := assignString(key, value, &opts.Platform); err != nil {
				return nil, err
			}
		case "headless":
			b, ok := value.(bool)
			if !ok {
				return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("want bool, got %T", value)}
			}
			opts.Headless = b
		case "windowSize":
			s, ok := value.(string)
			if !ok {
				return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("want string of form WxH, got %T", value)}
			}
			if _, err := fmt.Sscanf(s, "%dx%d", &opts.WindowWidth, &opts.WindowHeight); err != nil {
				return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("want form WxH, got %q", s)}
			}
		case "proxy":
			if err := assignString(key, value, &opts.Proxy); err != nil {
				return nil, err
			}
		case "extraArgs":
			switch v := value.(type) {
			case []string:
				opts.ExtraArgs = v
			case []interface{}:
				for _, e := range v {
					s, ok := e.(string)
					if !ok {
						return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("want sequence of strings, got element %T", e)}
					}
					opts.ExtraArgs = append(opts.ExtraArgs, s)
				}
			default:
				return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("want sequence of strings, got %T", value)}
			}
		case "logLevel":
			var s string
			if err := assignString(key, value, &s); err != nil {
				return nil, err
			}
			opts.LogLevel = log.Level(strings.ToUpper(s))
		default:
			return nil, &ConfigError{Key: key, Reason: "unrecognized option"}
		}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func assignString(key string, value interface{}, dst *string) error {
	s, ok := value.(string)
	if !ok {
		return &ConfigError{Key: key, Reason: fmt.Sprintf("want string, got %T", value)}
	}
	*dst = s
	return nil
}

func (o *Options) validate() error {
	if (o.WindowWidth == 0) != (o.WindowHeight == 0) {
		return &ConfigError{Key: "windowSize", Reason: "width and height must both be set"}
	}
	if o.WindowWidth < 0 || o.WindowHeight < 0 {
		return &ConfigError{Key: "windowSize", Reason: "dimensions must be positive"}
	}
	if o.Proxy != "" {
		u, err := url.Parse(o.Proxy)
		if err != nil || u.Host == "" {
			return &ConfigError{Key: "proxy", Reason: fmt.Sprintf("not a valid proxy URL: %q", o.Proxy)}
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return &ConfigError{Key: "proxy", Reason: fmt.Sprintf("unsupported proxy scheme %q", u.Scheme)}
		}
	}
	return nil
}

// BuildCapabilities assembles the immutable capability set for a session
// launched against spec with these options.
func (o *Options) BuildCapabilities(spec *provision.DriverSpec) (Capabilities, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	caps := Capabilities{"browserName": spec.Browser}

	switch spec.Browser {
	case provision.Firefox:
		ff := firefox.Capabilities{}
		if o.Headless {
			ff.Args = append(ff.Args, "-headless")
		}
		if o.WindowWidth > 0 {
			ff.Args = append(ff.Args,
				fmt.Sprintf("-width=%d", o.WindowWidth),
				fmt.Sprintf("-height=%d", o.WindowHeight))
		}
		ff.Args = append(ff.Args, o.ExtraArgs...)
		caps.AddFirefox(ff)
	default:
		// Chromium and its derivatives share the chromeOptions vendor key.
		ch := chrome.Capabilities{W3C: true}
		if o.Headless {
			ch.Args = append(ch.Args, "--headless=new")
		}
		if o.WindowWidth > 0 {
			ch.Args = append(ch.Args, fmt.Sprintf("--window-size=%d,%d", o.WindowWidth, o.WindowHeight))
		}
		ch.Args = append(ch.Args, o.ExtraArgs...)
		caps.AddChrome(ch)
	}

	if o.Proxy != "" {
		proxy, err := proxyCapability(o.Proxy)
		if err != nil {
			return nil, err
		}
		caps.AddProxy(proxy)
	}
	if o.LogLevel != "" {
		caps.SetLogLevel(log.Browser, o.LogLevel)
	}
	return caps, nil
}

func proxyCapability(raw string) (Proxy, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Proxy{}, &ConfigError{Key: "proxy", Reason: err.Error()}
	}
	p := Proxy{Type: Manual}
	switch u.Scheme {
	case "socks5":
		p.SOCKS = u.Host
		p.SOCKSVersion = 5
		if u.User != nil {
			p.SOCKSUsername = u.User.Username()
			p.SOCKSPassword, _ = u.User.Password()
		}
	case "http", "https":
		p.HTTP = u.Host
		p.SSL = u.Host
	default:
		return Proxy{}, &ConfigError{Key: "proxy", Reason: fmt.Sprintf("unsupported proxy scheme %q", u.Scheme)}
	}
	return p, nil
}
