package di

import "github.com/samber/do/v2"

// RegisterSingletons registers all service providers as singletons.
// Services are registered in dependency order:
// 1. Config (no dependencies)
// 2. Logger (depends on Config)
// 3. Metrics (depends on Config)
// 4. KeyStore (depends on Config, Logger, Metrics)
// 5. Chain (depends on Config, Logger, Metrics, KeyStore)
// 6. Policies (depends on Config, KeyStore)
// 7. Handler (depends on all above services)
// 8. Server (depends on Handler, Config).
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfig)
	do.Provide(i, NewLogger)
	do.Provide(i, NewMetrics)
	do.Provide(i, NewKeyStore)
	do.Provide(i, NewChain)
	do.Provide(i, NewPolicies)
	do.Provide(i, NewHandler)
	do.Provide(i, NewHTTPServer)
}
