package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "PRESS_"

// parseEnv overlays PRESS_* environment variables. A dotenv file named by
// -env is loaded first (it never overrides variables already set); without
// the flag ./.env is used when present. Malformed values panic.
func parseEnv(config *Config) {
	if err := loadDotenv(flagx.EnvFileFlags()); err != nil {
		panic(err)
	}

	for _, v := range envVars(config) {
		raw, ok := os.LookupEnv(envPrefix + v.name)
		if !ok {
			continue
		}
		if err := v.set(strings.TrimSpace(raw)); err != nil {
			panic(fmt.Errorf("%s%s: %w", envPrefix, v.name, err))
		}
	}
}

func loadDotenv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	err := godotenv.Load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

type envVar struct {
	name string
	set  func(string) error
}

func envVars(c *Config) []envVar {
	return []envVar{
		{"HTTP_ADDR", stringVar(&c.HTTPAddr)},
		{"GRPC_ADDR", stringVar(&c.GRPCAddr)},
		{"DATABASE_DSN", stringVar(&c.DatabaseDSN)},
		{"JWT_SECRET", stringVar(&c.JWTSecret)},
		{"CORS_ORIGINS", listVar(&c.CORSOrigins)},

		{"STORAGE_ROOT", stringVar(&c.StorageRoot)},
		{"CHUNK_SIZE", int64Var(&c.ChunkSize)},
		{"MAX_CHUNK_BYTES", int64Var(&c.MaxChunkBytes)},
		{"MAX_UPLOAD_BYTES", int64Var(&c.MaxUploadBytes)},
		{"SESSION_TTL", durationVar(&c.SessionTTL)},
		{"JANITOR_INTERVAL", durationVar(&c.JanitorInterval)},

		{"SERVE_MODE", stringVar(&c.ServeMode)},
		{"ACCEL_PREFIX", stringVar(&c.AccelPrefix)},

		{"COMPRESSION_ENABLED", boolVar(&c.CompressionEnabled)},
		{"COMPRESSION_BACKEND", stringVar(&c.CompressionBackend)},
		{"GHOSTSCRIPT_PATH", stringVar(&c.GhostscriptPath)},
		{"GHOSTSCRIPT_PROFILE", stringVar(&c.GhostscriptProfile)},
		{"GRAYSCALE", boolVar(&c.Grayscale)},
		{"COMPRESS_TIMEOUT", durationVar(&c.CompressTimeout)},
		{"PDFTOPPM_PATH", stringVar(&c.PdftoppmPath)},
		{"TESSERACT_PATH", stringVar(&c.TesseractPath)},
		{"OCR_LANGUAGE", stringVar(&c.OcrLanguage)},
		{"OCR_DPI", intVar(&c.OcrDPI)},
		{"THUMB_DPI", intVar(&c.ThumbDPI)},
		{"THUMB_WIDTH", intVar(&c.ThumbWidth)},
		{"RASTER_TIMEOUT", durationVar(&c.RasterTimeout)},
		{"RECOGNIZE_TIMEOUT", durationVar(&c.RecognizeTimeout)},

		{"LIGHT_WORKERS", intVar(&c.LightWorkers)},
		{"OCR_WORKERS", intVar(&c.OcrWorkers)},
		{"QUEUE_BUFFER", intVar(&c.QueueBuffer)},
		{"ROCKETMQ_NAME_SERVERS", listVar(&c.RocketMQNameServers)},
		{"RECOVER_ON_START", boolVar(&c.RecoverOnStart)},

		{"S3_BUCKET", stringVar(&c.S3Bucket)},
		{"S3_REGION", stringVar(&c.S3Region)},
		{"S3_ACCESS_KEY", stringVar(&c.S3AccessKey)},
		{"S3_SECRET_KEY", stringVar(&c.S3SecretKey)},
		{"S3_BASE_ENDPOINT", stringVar(&c.S3BaseEndpoint)},
		{"PRESIGN_TTL", durationVar(&c.PresignTTL)},

		{"LOG_LEVEL", stringVar(&c.LogLevel)},
		{"LOG_FILE", stringVar(&c.LogFile)},
		{"HEALTH_INTERVAL", durationVar(&c.HealthInterval)},
	}
}

func stringVar(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

func intVar(dst *int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func int64Var(dst *int64) func(string) error {
	return func(s string) error {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(s string) error {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(s string) error {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

// listVar splits a comma separated value; an empty value clears the list.
func listVar(dst *[]string) func(string) error {
	return func(s string) error {
		*dst = splitList(s)
		return nil
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
