package observability

import (
	"os"

	"github.com/grafana/pyroscope-go"
)

// StartProfiling attaches continuous profiling when a pyroscope server is
// configured through the environment. No-op otherwise.
func StartProfiling(appName string) {
	server := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if server == "" {
		return
	}
	_, _ = pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   server,
		AuthToken:       os.Getenv("PYROSCOPE_AUTH_TOKEN"),
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}
