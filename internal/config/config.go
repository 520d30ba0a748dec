// Package config loads trackmerge settings from a YAML file, a .env file and
// TM_* environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sydlexius/trackmerge/internal/catalog"
	"github.com/sydlexius/trackmerge/internal/genre"
	"github.com/sydlexius/trackmerge/internal/logging"
	"github.com/sydlexius/trackmerge/internal/source"
)

// Config holds all application configuration.
type Config struct {
	Inputs      InputsConfig      `yaml:"inputs"`
	Database    DatabaseConfig    `yaml:"database"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Genres      GenresConfig      `yaml:"genres"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Watch       WatchConfig       `yaml:"watch"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     logging.Config    `yaml:"logging"`
}

// InputsConfig locates the three input datasets.
type InputsConfig struct {
	Catalog     string `yaml:"catalog" validate:"required"`
	Artists     string `yaml:"artists"`
	Nominations string `yaml:"nominations"`

	// NominationsTable switches the nomination source to a SQL table. The
	// table is read through NominationsDSN, or the sink database when empty.
	NominationsTable  string `yaml:"nominations_table"`
	NominationsDriver string `yaml:"nominations_driver" validate:"omitempty,oneof=sqlite postgres"`
	NominationsDSN    string `yaml:"nominations_dsn"`
}

// DatabaseConfig selects the sink database.
type DatabaseConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

// EnrichmentConfig controls the artist join.
type EnrichmentConfig struct {
	JoinKey string `yaml:"join_key" validate:"omitempty,oneof=track_id artist_name"`
}

// GenresConfig optionally replaces the built-in genre taxonomy.
type GenresConfig struct {
	Fallback string              `yaml:"fallback"`
	Taxonomy map[string][]string `yaml:"taxonomy"`
}

// ArchiveConfig lists the archive destinations. Each one is enabled by
// setting its location.
type ArchiveConfig struct {
	Prefix      string                   `yaml:"prefix"`
	LocalDir    string                   `yaml:"local_dir"`
	GCS         GCSConfig                `yaml:"gcs"`
	Drive       DriveConfig              `yaml:"drive"`
	MinInterval map[string]time.Duration `yaml:"min_interval"`
}

// GCSConfig configures the Cloud Storage archive.
type GCSConfig struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Credentials string `yaml:"credentials"`
}

// DriveConfig configures the Google Drive archive.
type DriveConfig struct {
	FolderID       string `yaml:"folder_id"`
	ServiceAccount string `yaml:"service_account"`
	ClientSecrets  string `yaml:"client_secrets"`
	TokenFile      string `yaml:"token_file"`
}

// WatchConfig tunes the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// MaintenanceConfig controls sink database upkeep.
type MaintenanceConfig struct {
	// KeepRuns bounds the run history. Zero keeps every run.
	KeepRuns int `yaml:"keep_runs" validate:"gte=0"`

	// Interval schedules optimize passes in watch mode. Zero disables them.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Inputs: InputsConfig{
			Catalog:     "data/spotify_dataset.csv",
			Artists:     "data/artists.csv",
			Nominations: "data/the_grammy_awards.csv",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/trackmerge.db",
		},
		Enrichment: EnrichmentConfig{
			JoinKey: string(catalog.JoinByTrackID),
		},
		Archive: ArchiveConfig{
			Prefix: "merged_tracks",
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			KeepRuns: 100,
			Interval: 24 * time.Hour,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads config from a YAML file (if it exists), then the .env file at
// envPath (if it exists), then environment variables. Environment variables
// take precedence.
func Load(path, envPath string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := loadEnvFile(envPath); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

// loadEnvFile sets variables from a dotenv file without overriding ones
// already present in the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) loadFromEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("TM_CATALOG", &c.Inputs.Catalog)
	setString("TM_ARTISTS", &c.Inputs.Artists)
	setString("TM_NOMINATIONS", &c.Inputs.Nominations)
	setString("TM_NOMINATIONS_TABLE", &c.Inputs.NominationsTable)
	setString("TM_NOMINATIONS_DRIVER", &c.Inputs.NominationsDriver)
	setString("TM_NOMINATIONS_DSN", &c.Inputs.NominationsDSN)

	setString("TM_DB_DRIVER", &c.Database.Driver)
	setString("TM_DB_PATH", &c.Database.Path)
	setString("TM_DB_DSN", &c.Database.DSN)
	if v := os.Getenv("TM_DB_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Database.BatchSize = n
		}
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		c.Database.DSN = postgresDSNFromEnv()
	}

	setString("TM_JOIN_KEY", &c.Enrichment.JoinKey)

	setString("TM_ARCHIVE_DIR", &c.Archive.LocalDir)
	setString("TM_GCS_BUCKET", &c.Archive.GCS.Bucket)
	setString("FOLDER_ID", &c.Archive.Drive.FolderID)
	setString("TM_DRIVE_FOLDER_ID", &c.Archive.Drive.FolderID)

	if v := os.Getenv("TM_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.Debounce = d
		}
	}

	if v := os.Getenv("TM_KEEP_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Maintenance.KeepRuns = n
		}
	}

	setString("TM_LOG_LEVEL", &c.Logging.Level)
	setString("TM_LOG_FORMAT", &c.Logging.Format)
	setString("TM_LOG_FILE", &c.Logging.File)
}

// postgresDSNFromEnv composes a connection URL from the DB_HOST, DB_PORT,
// DB_NAME, DB_USER and DB_PASSWORD variables. It returns "" when DB_HOST is
// unset.
func postgresDSNFromEnv() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + os.Getenv("DB_NAME"),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		if pw, ok := os.LookupEnv("DB_PASSWORD"); ok {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml key names in errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// applyDefaults fills settings whose default depends on other settings.
func (c *Config) applyDefaults() {
	if c.Inputs.NominationsDSN != "" && c.Inputs.NominationsDriver == "" {
		c.Inputs.NominationsDriver = "postgres"
	}
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%s: failed %q check (value %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for postgres (set database.dsn, TM_DB_DSN or DB_HOST)")
		}
	}

	if c.Inputs.NominationsTable != "" && !source.ValidTableName(c.Inputs.NominationsTable) {
		return fmt.Errorf("invalid nominations table %q", c.Inputs.NominationsTable)
	}
	if d := c.Archive.Drive; d.ClientSecrets != "" && d.TokenFile == "" {
		return fmt.Errorf("archive.drive.token_file is required with client_secrets")
	}
	for name, every := range c.Archive.MinInterval {
		if every < 0 {
			return fmt.Errorf("archive.min_interval.%s must not be negative", name)
		}
	}

	if _, err := c.GenreMapper(); err != nil {
		return err
	}
	return nil
}

// GenreMapper builds the genre mapper from the configured taxonomy, or the
// built-in one when none is configured.
func (c *Config) GenreMapper() (*genre.Mapper, error) {
	tax := genre.DefaultTaxonomy()
	if len(c.Genres.Taxonomy) > 0 {
		tax = make(genre.Taxonomy, len(c.Genres.Taxonomy))
		for cat, tags := range c.Genres.Taxonomy {
			tax[genre.Category(cat)] = tags
		}
	}
	m, err := genre.NewMapper(tax, genre.Category(c.Genres.Fallback))
	if err != nil {
		return nil, fmt.Errorf("building genre taxonomy: %w", err)
	}
	return m, nil
}

// JoinKey returns the parsed enrichment join key.
func (c *Config) JoinKey() catalog.JoinKey {
	k, err := catalog.ParseJoinKey(c.Enrichment.JoinKey)
	if err != nil {
		return catalog.JoinByTrackID
	}
	return k
}

// WatchedFiles returns the input files whose changes trigger a rerun in
// watch mode, sorted and without duplicates.
func (c *Config) WatchedFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, f := range []string{c.Inputs.Catalog, c.Inputs.Artists, c.Inputs.Nominations} {
		if f == "" || seen[f] {
			continue
		}
		if f == c.Inputs.Nominations && c.Inputs.NominationsTable != "" {
			continue
		}
		seen[f] = true
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}
