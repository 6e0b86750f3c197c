package config

const (
	defaultDataDir          = "~/.local/share/batchvec"
	defaultLogDir           = "~/.local/share/batchvec/logs"
	defaultAPIBind          = "127.0.0.1:7489"
	defaultSiteHost         = "vectorizer.ai"
	defaultSiteSubdomain    = "www"
	defaultSiteResultMarker = "/images/"
	defaultSiteTabPattern   = "*://*.vectorizer.ai/*"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultNotifyTimeout    = 10

	defaultSkipRetryMs              = 100
	defaultHandshakeAttempts        = 10
	defaultHandshakeBaseMs          = 500
	defaultHandshakeStepMs          = 200
	defaultHandshakeRetryMs         = 3000
	defaultHandshakeRequeueLimit    = 5
	defaultDeliveryRetries          = 5
	defaultDeliveryRetryMs          = 1000
	defaultNavigationTimeoutSeconds = 15
	defaultNavigationSettleMs       = 2000
	defaultKeepAliveFloorSeconds    = 30
	defaultKeepAliveOverheadSeconds = 20
	defaultSnapshotMaxAgeMinutes    = 60
	defaultRequestTimeoutSeconds    = 20
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Site: Site{
			Host:             defaultSiteHost,
			DefaultSubdomain: defaultSiteSubdomain,
			ResultMarker:     defaultSiteResultMarker,
			TabPattern:       defaultSiteTabPattern,
		},
		Engine: defaultEngine(),
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Queue:          true,
			AutoPause:      true,
			Interstitial:   true,
			Restore:        true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultEngine() Engine {
	return Engine{
		SkipRetryMs:              defaultSkipRetryMs,
		HandshakeAttempts:        defaultHandshakeAttempts,
		HandshakeBaseMs:          defaultHandshakeBaseMs,
		HandshakeStepMs:          defaultHandshakeStepMs,
		HandshakeRetryMs:         defaultHandshakeRetryMs,
		HandshakeRequeueLimit:    defaultHandshakeRequeueLimit,
		DeliveryRetries:          defaultDeliveryRetries,
		DeliveryRetryMs:          defaultDeliveryRetryMs,
		NavigationTimeoutSeconds: defaultNavigationTimeoutSeconds,
		NavigationSettleMs:       defaultNavigationSettleMs,
		KeepAliveFloorSeconds:    defaultKeepAliveFloorSeconds,
		KeepAliveOverheadSeconds: defaultKeepAliveOverheadSeconds,
		SnapshotMaxAgeMinutes:    defaultSnapshotMaxAgeMinutes,
		RequestTimeoutSeconds:    defaultRequestTimeoutSeconds,
	}
}
