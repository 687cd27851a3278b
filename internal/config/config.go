package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server + download store + pipeline settings.
// Load from env; call LoadEnvFile(".env") before Load() to use a .env file.
type Config struct {
	// HTTP
	ListenAddr string // e.g. :5000
	BaseURL    string // external base URL used in download_url responses; "" = relative paths

	// Store
	DownloadDir   string        // shared artifact directory, e.g. /var/cache/ydownloader
	FileTTL       time.Duration // artifacts older than this are swept
	SweepInterval time.Duration // reaper wakeup interval

	// Pipeline
	FetchTimeout  time.Duration // per upstream stream fetch
	ToolTimeout   time.Duration // per ffmpeg invocation (mux or transcode)
	AudioBitrate  int           // kbps for mp3 transcode
	FFmpegPath    string        // "" = look up "ffmpeg" in PATH
	MaxConcurrent int           // cap on simultaneous generations; 0 = unlimited

	// MusicBrainz metadata search
	MetadataUserAgent string // sent to musicbrainz.org per their etiquette
	MetadataCacheFile string // sqlite path for cached searches; "" = no cache
	MetadataCacheTTL  time.Duration
}

// Load reads config from environment with defaults suitable for a local run.
func Load() *Config {
	c := &Config{
		ListenAddr:        getEnv("YDL_LISTEN_ADDR", ":5000"),
		BaseURL:           os.Getenv("YDL_BASE_URL"),
		DownloadDir:       getEnv("YDL_DOWNLOAD_DIR", "./downloads"),
		FileTTL:           getEnvDuration("YDL_FILE_TTL", 10*time.Minute),
		SweepInterval:     getEnvDuration("YDL_SWEEP_INTERVAL", time.Minute),
		FetchTimeout:      getEnvDuration("YDL_FETCH_TIMEOUT", 10*time.Minute),
		ToolTimeout:       getEnvDuration("YDL_TOOL_TIMEOUT", 5*time.Minute),
		AudioBitrate:      getEnvInt("YDL_AUDIO_BITRATE_KBPS", 192),
		FFmpegPath:        os.Getenv("YDL_FFMPEG_PATH"),
		MaxConcurrent:     getEnvInt("YDL_MAX_CONCURRENT", 4),
		MetadataUserAgent: getEnv("YDL_METADATA_USER_AGENT", "YDownloader/1.0 (https://github.com/OpyrusDevOp/YDownloader)"),
		MetadataCacheFile: os.Getenv("YDL_METADATA_CACHE_FILE"),
		MetadataCacheTTL:  getEnvDuration("YDL_METADATA_CACHE_TTL", 4*time.Hour),
	}
	if c.FileTTL <= 0 {
		c.FileTTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.AudioBitrate <= 0 {
		c.AudioBitrate = 192
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Minute
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 5 * time.Minute
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
