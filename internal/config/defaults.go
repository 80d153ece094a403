package config

const (
	defaultStateDir               = "~/.local/share/idlefarm"
	defaultLogDir                 = "~/.local/share/idlefarm/logs"
	defaultAPIBind                = "127.0.0.1:7489"
	defaultWorkerBinary           = "idlefarm-worker"
	defaultSessionDurationMinutes = 60
	defaultAchievementGrace       = 60
	defaultAchievementMinMinutes  = 5
	defaultAchievementMaxMinutes  = 120
	defaultCardPollMinutes        = 15
	defaultCardOrder              = OrderDiscovery
	defaultCardRequestDelayMillis = 300
	defaultStoreBaseURL           = "https://store.steampowered.com"
	defaultCommunityBaseURL       = "https://steamcommunity.com"
	defaultWebAPIBaseURL          = "https://api.steampowered.com"
	defaultSteamLanguage          = "english"
	defaultSteamCountry           = "US"
	defaultSteamTimeoutSeconds    = 20
	defaultNotifyTimeoutSeconds   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultStreamCapacity         = 512
)

// Card queue ordering policies.
const (
	OrderDiscovery      = "discovery"
	OrderMostRemaining  = "most_remaining"
	OrderLeastRemaining = "least_remaining"
)

// defaultNoiseFilters are stderr fragments the Steamworks runtime prints on
// every launch.
var defaultNoiseFilters = []string{
	"Setting breakpad minidump AppID",
	"SteamInternal_SetMinidumpSteamID",
	"[S_API] SteamAPI_Init()",
	"[S_API FAIL] Tried to access Steam interface",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Worker: Worker{
			NoiseFilters: append([]string(nil), defaultNoiseFilters...),
		},
		Session: Session{
			DefaultDurationMinutes: defaultSessionDurationMinutes,
		},
		Achievements: Achievements{
			StopGraceSeconds:  defaultAchievementGrace,
			DefaultMinMinutes: defaultAchievementMinMinutes,
			DefaultMaxMinutes: defaultAchievementMaxMinutes,
		},
		Cards: Cards{
			PollIntervalMinutes: defaultCardPollMinutes,
			Order:               defaultCardOrder,
			RequestDelayMillis:  defaultCardRequestDelayMillis,
		},
		Steam: Steam{
			StoreBaseURL:     defaultStoreBaseURL,
			CommunityBaseURL: defaultCommunityBaseURL,
			WebAPIBaseURL:    defaultWebAPIBaseURL,
			Language:         defaultSteamLanguage,
			Country:          defaultSteamCountry,
			TimeoutSeconds:   defaultSteamTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
			RunStarted:            true,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			StreamCapacity: defaultStreamCapacity,
		},
	}
}
