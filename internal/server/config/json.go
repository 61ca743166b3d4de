package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/pressarchive/internal/flagx"
	"github.com/dmitrijs2005/pressarchive/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations are timex.Duration so
// both "90s" and integer nanoseconds are accepted. Pointer fields tell an
// explicit false or zero apart from an absent key.
type JsonConfig struct {
	HTTPAddr    string   `json:"http_addr"`
	GRPCAddr    string   `json:"grpc_addr"`
	DatabaseDSN string   `json:"database_dsn"`
	JWTSecret   string   `json:"jwt_secret"`
	CORSOrigins []string `json:"cors_origins"`

	StorageRoot     string         `json:"storage_root"`
	ChunkSize       int64          `json:"chunk_size"`
	MaxChunkBytes   int64          `json:"max_chunk_bytes"`
	MaxUploadBytes  int64          `json:"max_upload_bytes"`
	SessionTTL      timex.Duration `json:"session_ttl"`
	JanitorInterval timex.Duration `json:"janitor_interval"`

	ServeMode   string `json:"serve_mode"`
	AccelPrefix string `json:"accel_prefix"`

	CompressionEnabled *bool          `json:"compression_enabled"`
	CompressionBackend string         `json:"compression_backend"`
	GhostscriptPath    string         `json:"ghostscript_path"`
	GhostscriptProfile string         `json:"ghostscript_profile"`
	Grayscale          *bool          `json:"grayscale"`
	CompressTimeout    timex.Duration `json:"compress_timeout"`
	PdftoppmPath       string         `json:"pdftoppm_path"`
	TesseractPath      string         `json:"tesseract_path"`
	OcrLanguage        string         `json:"ocr_language"`
	OcrDPI             int            `json:"ocr_dpi"`
	ThumbDPI           int            `json:"thumb_dpi"`
	ThumbWidth         int            `json:"thumb_width"`
	RasterTimeout      timex.Duration `json:"raster_timeout"`
	RecognizeTimeout   timex.Duration `json:"recognize_timeout"`

	LightWorkers        int      `json:"light_workers"`
	OcrWorkers          int      `json:"ocr_workers"`
	QueueBuffer         int      `json:"queue_buffer"`
	RocketMQNameServers []string `json:"rocketmq_name_servers"`
	RecoverOnStart      *bool    `json:"recover_on_start"`

	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3AccessKey    string         `json:"s3_access_key"`
	S3SecretKey    string         `json:"s3_secret_key"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
	PresignTTL     timex.Duration `json:"presign_ttl"`

	LogLevel       string         `json:"log_level"`
	LogFile        string         `json:"log_file"`
	HealthInterval timex.Duration `json:"health_interval"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag. Keys missing from the file keep their current value. An
// unreadable file or invalid JSON panics, as configuration errors are fatal
// at startup.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.JWTSecret, c.JWTSecret)
	setSlice(&config.CORSOrigins, c.CORSOrigins)

	setString(&config.StorageRoot, c.StorageRoot)
	setNumber(&config.ChunkSize, c.ChunkSize)
	setNumber(&config.MaxChunkBytes, c.MaxChunkBytes)
	setNumber(&config.MaxUploadBytes, c.MaxUploadBytes)
	setNumber(&config.SessionTTL, c.SessionTTL.Duration)
	setNumber(&config.JanitorInterval, c.JanitorInterval.Duration)

	setString(&config.ServeMode, c.ServeMode)
	setString(&config.AccelPrefix, c.AccelPrefix)

	setBool(&config.CompressionEnabled, c.CompressionEnabled)
	setString(&config.CompressionBackend, c.CompressionBackend)
	setString(&config.GhostscriptPath, c.GhostscriptPath)
	setString(&config.GhostscriptProfile, c.GhostscriptProfile)
	setBool(&config.Grayscale, c.Grayscale)
	setNumber(&config.CompressTimeout, c.CompressTimeout.Duration)
	setString(&config.PdftoppmPath, c.PdftoppmPath)
	setString(&config.TesseractPath, c.TesseractPath)
	setString(&config.OcrLanguage, c.OcrLanguage)
	setNumber(&config.OcrDPI, c.OcrDPI)
	setNumber(&config.ThumbDPI, c.ThumbDPI)
	setNumber(&config.ThumbWidth, c.ThumbWidth)
	setNumber(&config.RasterTimeout, c.RasterTimeout.Duration)
	setNumber(&config.RecognizeTimeout, c.RecognizeTimeout.Duration)

	setNumber(&config.LightWorkers, c.LightWorkers)
	setNumber(&config.OcrWorkers, c.OcrWorkers)
	setNumber(&config.QueueBuffer, c.QueueBuffer)
	setSlice(&config.RocketMQNameServers, c.RocketMQNameServers)
	setBool(&config.RecoverOnStart, c.RecoverOnStart)

	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setNumber(&config.PresignTTL, c.PresignTTL.Duration)

	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFile, c.LogFile)
	setNumber(&config.HealthInterval, c.HealthInterval.Duration)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setNumber[T ~int | ~int64](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setSlice(dst *[]string, v []string) {
	if v != nil {
		*dst = v
	}
}
