package main

// Options is the command line of the gateway binary. Every flag falls back to
// an environment variable so container deployments need no argv.
type Options struct {
	Host            string `short:"H" long:"host" description:"bind host" env:"HOST" default:"0.0.0.0"`
	Port            int    `short:"p" long:"port" description:"bind port" env:"PORT" default:"8080"`
	ConfigURL       string `short:"c" long:"config" description:"service registry URL (file, s3, gs or http)" env:"GATEWAY_CONFIG" required:"true"`
	DB              string `short:"d" long:"db" description:"sqlite database path" env:"GATEWAY_DB" default:"relayforge.db"`
	OAuthBaseURL    string `long:"oauth-url" description:"companion OAuth token service base URL" env:"OAUTH_BASE_URL"`
	OAuthServiceKey string `long:"oauth-key" description:"service key for the OAuth token service" env:"OAUTH_SERVICE_KEY"`
	Demo            bool   `long:"demo" description:"register the built-in demo service" env:"GATEWAY_DEMO"`
	Verbose         bool   `short:"v" long:"verbose" description:"debug logging"`
}
