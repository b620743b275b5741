package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/perception/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load()

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 3001)
				convey.So(cfg.CORSOrigin, convey.ShouldEqual, "*")
				convey.So(cfg.HistoryCap, convey.ShouldEqual, 10_000)
			})
		})

		convey.Convey("When WS_PORT and CORS_ORIGIN are set", func() {
			_ = os.Setenv("WS_PORT", "4100")
			_ = os.Setenv("CORS_ORIGIN", "https://app.example")

			cfg, err := config.Load()

			convey.Convey("Then the bare variables are honoured", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 4100)
				convey.So(cfg.Origins(), convey.ShouldResemble, []string{"https://app.example"})
			})
		})

		convey.Convey("When both bare and prefixed variables are set", func() {
			_ = os.Setenv("WS_PORT", "4100")
			_ = os.Setenv("PERCEPTION_WS_PORT", "4200")
			_ = os.Setenv("PERCEPTION_ARCHIVE__DSN", "file:test.db")
			_ = os.Setenv("PERCEPTION_ARCHIVE__WORKERS", "4")

			cfg, err := config.Load()

			convey.Convey("Then the prefixed variables win and nested keys resolve", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 4200)
				convey.So(cfg.Archive.DSN, convey.ShouldEqual, "file:test.db")
				convey.So(cfg.Archive.Workers, convey.ShouldEqual, 4)
				convey.So(cfg.Archive.QueueSize, convey.ShouldEqual, 10_000)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
ws_port: 3900
history_cap: 200
history_retain: 100
rating_max: 10
archive:
  dsn: "file::memory:"
  queue_size: 50
`
			tmpFile := createTempConfigFile(t, yamlContent)
			_ = os.Setenv("PERCEPTION_CONFIG", tmpFile)

			cfg, err := config.Load()

			convey.Convey("Then it should load from YAML file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 3900)
				convey.So(cfg.HistoryCap, convey.ShouldEqual, 200)
				convey.So(cfg.HistoryRetain, convey.ShouldEqual, 100)
				convey.So(cfg.RatingMax, convey.ShouldEqual, 10)
				convey.So(cfg.Archive.DSN, convey.ShouldEqual, "file::memory:")
				convey.So(cfg.Archive.QueueSize, convey.ShouldEqual, 50)
				convey.So(cfg.Archive.Workers, convey.ShouldEqual, 2)
				convey.So(cfg.CORSOrigin, convey.ShouldEqual, "*")
			})

			convey.Convey("And environment variables override the file", func() {
				_ = os.Setenv("WS_PORT", "3950")
				cfg, err := config.Load()
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 3950)
				convey.So(cfg.HistoryCap, convey.ShouldEqual, 200)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			_ = os.Setenv("PERCEPTION_CONFIG", tmpFile)

			cfg, err := config.Load()

			convey.Convey("Then it should return a load error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("PERCEPTION_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("WS_PORT", "not_a_number")

			cfg, err := config.Load()

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When validation fails", func() {
			cases := map[string]string{
				"CORS_ORIGIN":                 ", ,",
				"PERCEPTION_HISTORY_RETAIN":   "20000",
				"PERCEPTION_RATING_MIN":       "100",
				"PERCEPTION_SEND_BUFFER":      "0",
				"PERCEPTION_PING_INTERVAL_MS": "90000",
			}
			for key, value := range cases {
				clearConfigEnvVars()
				_ = os.Setenv(key, value)

				cfg, err := config.Load()

				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			}
		})
	})
}

func TestLoadDotEnv(t *testing.T) {
	convey.Convey("Given a .env file", t, func() {
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		dir := t.TempDir()
		path := filepath.Join(dir, ".env")
		convey.So(os.WriteFile(path, []byte("WS_PORT=4321\n"), 0o600), convey.ShouldBeNil)

		convey.Convey("When it is loaded before Load", func() {
			convey.So(config.LoadDotEnv(filepath.Join(dir, "missing.env"), path), convey.ShouldBeNil)
			cfg, err := config.Load()

			convey.Convey("Then its values reach the config", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Port, convey.ShouldEqual, 4321)
			})
		})

		convey.Convey("When the variable is already set", func() {
			_ = os.Setenv("WS_PORT", "5000")
			convey.So(config.LoadDotEnv(path), convey.ShouldBeNil)

			convey.Convey("Then the process environment wins", func() {
				convey.So(os.Getenv("WS_PORT"), convey.ShouldEqual, "5000")
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"PERCEPTION_CONFIG",
		"WS_PORT",
		"CORS_ORIGIN",
		"PERCEPTION_WS_PORT",
		"PERCEPTION_ARCHIVE__DSN",
		"PERCEPTION_ARCHIVE__WORKERS",
		"PERCEPTION_HISTORY_RETAIN",
		"PERCEPTION_RATING_MIN",
		"PERCEPTION_SEND_BUFFER",
		"PERCEPTION_PING_INTERVAL_MS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perception-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
