package catalog

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config selects and parameterises a Source.
type Config struct {
	Type     string        `mapstructure:"type"`     // ftp (default), http, dir
	Address  string        `mapstructure:"address"`  // ftp host:port
	Dir      string        `mapstructure:"dir"`      // ftp directory or local root for dir
	URL      string        `mapstructure:"url"`      // http base URL
	User     string        `mapstructure:"user"`     // ftp user, anonymous when empty
	Password string        `mapstructure:"password"` // ftp password
	TLS      bool          `mapstructure:"tls"`      // explicit FTPS
	Timeout  time.Duration `mapstructure:"timeout"`  // per connection / request
}

// New builds the Source described by c.
func New(c Config) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "", "ftp":
		return &FTP{Address: c.Address, Dir: c.Dir, User: c.User, Password: c.Password, TLS: c.TLS, Timeout: c.Timeout}, nil
	case "http", "https":
		if c.URL == "" {
			return nil, fmt.Errorf("http source requires url")
		}
		var cl *http.Client
		if c.Timeout > 0 {
			cl = &http.Client{Timeout: c.Timeout}
		}
		return &HTTP{BaseURL: c.URL, Client: cl}, nil
	case "dir", "local":
		if c.Dir == "" {
			return nil, fmt.Errorf("dir source requires dir")
		}
		return &Dir{Root: c.Dir}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", c.Type)
	}
}
