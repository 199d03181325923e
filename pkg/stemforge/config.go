package stemforge

type Config struct {
	DBPath         string
	TempDir        string
	OutputDir      string
	SampleRate     int
	ChunkSeconds   float64
	OverlapSeconds float64
	Logger         Logger
	Storage        Storage
	Engine         SeparationEngine
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithOutputDir(dir string) Option {
	return func(c *Config) {
		c.OutputDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithChunking(chunkSeconds, overlapSeconds float64) Option {
	return func(c *Config) {
		c.ChunkSeconds = chunkSeconds
		c.OverlapSeconds = overlapSeconds
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func WithEngine(engine SeparationEngine) Option {
	return func(c *Config) {
		c.Engine = engine
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:         "stemforge.sqlite3",
		TempDir:        "/tmp",
		OutputDir:      "stems",
		SampleRate:     44100,
		ChunkSeconds:   180,
		OverlapSeconds: 5,
		Logger:         nil,
	}
}
