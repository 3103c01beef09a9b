// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken     = "TELEGRAM_TOKEN"
	KeyBotOwner          = "BOT_OWNER"
	KeyAdminIDs          = "ADMIN_IDS"
	KeyAdminChatID       = "ADMIN_CHAT_ID"
	KeyBotName           = "BOT_NAME"
	KeyMongoURI          = "MONGO_URI"
	KeyMongoDB           = "MONGO_DB"
	KeyAppEnv            = "APP_ENV"
	KeyLogLevel          = "LOG_LEVEL"
	KeyHTTPPort          = "HTTP_PORT"
	KeyLinkCheckInterval = "LINK_CHECK_INTERVAL"
	KeyWorkerCount       = "WORKER_COUNT"
	KeyQueueSize         = "QUEUE_SIZE"
	KeyReminderCooldown  = "REMINDER_COOLDOWN"
	KeyRedisURL          = "REDIS_URL"
	KeyErrorChatID       = "ERROR_CHAT_ID"
	KeyErrorCooldown     = "ERROR_REPORT_COOLDOWN"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv            = EnvProduction
	DefaultLogLevel          = "info"
	DefaultHTTPPort          = 8080
	DefaultBotName           = "Group Directory Bot"
	DefaultLinkCheckInterval = 10 * time.Minute
	DefaultWorkerCount       = 4
	DefaultQueueSize         = 256
	DefaultReminderCooldown  = 24 * time.Hour
	DefaultErrorCooldown     = 10 * time.Minute

	// Recommended database names by environment.
	DefaultMongoDBProd = "group_directory"
	DefaultMongoDBDev  = "group_directory_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Owner Telegram user_id; always part of the admin allow-list.",
	},
	{
		Key:         KeyAdminIDs,
		Example:     "111,222",
		Description: "Additional admin user_ids allowed to decide on groups.",
		Notes:       "Comma separated; every entry must be a non-zero integer.",
	},
	{
		Key:         KeyAdminChatID,
		Example:     "-1001234567890",
		Required:    true,
		Description: "Chat that receives approval prompts and release lists.",
	},
	{
		Key:         KeyBotName,
		Example:     DefaultBotName,
		Default:     DefaultBotName,
		Description: "Display name reported by /status.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/metrics port.",
	},
	{
		Key:         KeyLinkCheckInterval,
		Example:     DefaultLinkCheckInterval.String(),
		Default:     DefaultLinkCheckInterval.String(),
		Description: "Period between invite link reconciliation passes.",
	},
	{
		Key:         KeyWorkerCount,
		Example:     strconv.Itoa(DefaultWorkerCount),
		Default:     strconv.Itoa(DefaultWorkerCount),
		Description: "Number of workers processing inbound updates.",
	},
	{
		Key:         KeyQueueSize,
		Example:     strconv.Itoa(DefaultQueueSize),
		Default:     strconv.Itoa(DefaultQueueSize),
		Description: "Capacity of the inbound update queue.",
	},
	{
		Key:         KeyReminderCooldown,
		Example:     DefaultReminderCooldown.String(),
		Default:     DefaultReminderCooldown.String(),
		Description: "Minimum gap between admin-rights reminders sent to one group.",
	},
	{
		Key:         KeyRedisURL,
		Example:     "redis://localhost:6379/0",
		Description: "Optional Redis used to share reminder throttling state.",
		Notes:       "When empty, throttling state is kept in process memory.",
	},
	{
		Key:         KeyErrorChatID,
		Example:     "-1009876543210",
		Description: "Optional chat that receives reports of failed update handlers.",
		Notes:       "When empty, failures are only logged.",
	},
	{
		Key:         KeyErrorCooldown,
		Example:     DefaultErrorCooldown.String(),
		Default:     DefaultErrorCooldown.String(),
		Description: "Minimum gap between failure reports for one job kind.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken     string
	BotOwnerID        int64
	Admins            AdminSet
	AdminChatID       int64
	BotName           string
	MongoURI          string
	MongoDB           string
	AppEnv            string
	LogLevel          string
	HTTPPort          int
	LinkCheckInterval time.Duration
	WorkerCount       int
	QueueSize         int
	ReminderCooldown  time.Duration
	RedisURL          string
	ErrorChatID       int64
	ErrorCooldown     time.Duration
}

// AdminSet is the allow-list of user ids permitted to run admin actions.
type AdminSet map[int64]struct{}

// NewAdminSet builds an AdminSet, ignoring zero ids.
func NewAdminSet(ids ...int64) AdminSet {
	set := make(AdminSet, len(ids))
	for _, id := range ids {
		if id != 0 {
			set[id] = struct{}{}
		}
	}
	return set
}

// Contains reports whether userID is allow-listed.
func (s AdminSet) Contains(userID int64) bool {
	_, ok := s[userID]
	return ok
}

// IDs returns the allow-listed ids in ascending order.
func (s AdminSet) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:            firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:     strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		BotName:           firstNonEmpty(os.Getenv(KeyBotName), DefaultBotName),
		MongoURI:          strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:           strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:          firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:          DefaultHTTPPort,
		LinkCheckInterval: DefaultLinkCheckInterval,
		WorkerCount:       DefaultWorkerCount,
		QueueSize:         DefaultQueueSize,
		ReminderCooldown:  DefaultReminderCooldown,
		ErrorCooldown:     DefaultErrorCooldown,
		RedisURL:          strings.TrimSpace(os.Getenv(KeyRedisURL)),
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	adminChatRaw := strings.TrimSpace(os.Getenv(KeyAdminChatID))
	if adminChatRaw == "" {
		missing = append(missing, KeyAdminChatID)
	} else {
		chatID, parseErr := strconv.ParseInt(adminChatRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAdminChatID, parseErr)
		}
		if chatID == 0 {
			return Config{}, fmt.Errorf("%s must not be 0", KeyAdminChatID)
		}
		cfg.AdminChatID = chatID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if !strings.HasPrefix(cfg.MongoURI, "mongodb://") && !strings.HasPrefix(cfg.MongoURI, "mongodb+srv://") {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if cfg.RedisURL != "" && !strings.HasPrefix(cfg.RedisURL, "redis://") && !strings.HasPrefix(cfg.RedisURL, "rediss://") {
		return Config{}, fmt.Errorf("invalid %s: must start with redis:// or rediss://", KeyRedisURL)
	}

	if errorChatRaw := strings.TrimSpace(os.Getenv(KeyErrorChatID)); errorChatRaw != "" {
		chatID, parseErr := strconv.ParseInt(errorChatRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyErrorChatID, parseErr)
		}
		cfg.ErrorChatID = chatID
	}

	adminIDs, err := parseIDList(os.Getenv(KeyAdminIDs))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyAdminIDs, err)
	}
	cfg.Admins = NewAdminSet(append(adminIDs, cfg.BotOwnerID)...)

	if cfg.HTTPPort, err = positiveInt(KeyHTTPPort, DefaultHTTPPort); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = positiveInt(KeyWorkerCount, DefaultWorkerCount); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = positiveInt(KeyQueueSize, DefaultQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.LinkCheckInterval, err = positiveDuration(KeyLinkCheckInterval, DefaultLinkCheckInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReminderCooldown, err = positiveDuration(KeyReminderCooldown, DefaultReminderCooldown); err != nil {
		return Config{}, err
	}
	if cfg.ErrorCooldown, err = positiveDuration(KeyErrorCooldown, DefaultErrorCooldown); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// IsAdmin reports whether userID is on the admin allow-list.
func (c Config) IsAdmin(userID int64) bool {
	return c.Admins.Contains(userID)
}

// FormatRedacted renders the resolved configuration one key per line with the
// Telegram token, Mongo credentials and Redis credentials masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + redactToken(cfg.TelegramToken),
		"bot_owner: " + strconv.FormatInt(cfg.BotOwnerID, 10),
		"admin_ids: " + joinIDs(cfg.Admins.IDs()),
		"admin_chat_id: " + strconv.FormatInt(cfg.AdminChatID, 10),
		"bot_name: " + cfg.BotName,
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"link_check_interval: " + cfg.LinkCheckInterval.String(),
		"worker_count: " + strconv.Itoa(cfg.WorkerCount),
		"queue_size: " + strconv.Itoa(cfg.QueueSize),
		"reminder_cooldown: " + cfg.ReminderCooldown.String(),
		"redis_url: " + redactURI(cfg.RedisURL),
		"error_chat_id: " + strconv.FormatInt(cfg.ErrorChatID, 10),
		"error_report_cooldown: " + cfg.ErrorCooldown.String(),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "...redacted"
	}
	return token[:4] + "...redacted"
}

func redactURI(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}
	parsed.User = nil

	return parsed.String()
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func parseIDList(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, errors.New("user id must not be 0")
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func positiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
