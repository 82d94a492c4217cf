package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	configPath string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithConfigPath names the config file to watch for live changes. Without
// it, settings are fixed for the lifetime of the process.
func WithConfigPath(path string) Option {
	return func(a *application) {
		a.configPath = path
	}
}
