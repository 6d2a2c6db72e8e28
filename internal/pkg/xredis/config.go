package xredis

// Config describes a redis connection. URL takes priority over Addr; explicit
// credential and DB fields override what the URL carries.
type Config struct {
	Addr                  string `conf:"addr" yaml:"addr" json:"addr"`
	URL                   string `conf:"url" yaml:"url" json:"url"`
	Username              string `conf:"username" yaml:"username" json:"username"`
	Password              string `conf:"password" yaml:"password" json:"password"`
	DB                    *int   `conf:"db" yaml:"db" json:"db"`
	TLS                   bool   `conf:"tls" yaml:"tls" json:"tls"`
	TLSInsecureSkipVerify bool   `conf:"tls_insecure_skip_verify" yaml:"tls_insecure_skip_verify" json:"tls_insecure_skip_verify"`
}

// Enabled reports whether any endpoint is configured.
func (c Config) Enabled() bool {
	return c.Addr != "" || c.URL != ""
}
