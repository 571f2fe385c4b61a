package main

import (
	"transcode-pipeline/app"
	"transcode-pipeline/pkg/observability"
)

func main() {
	observability.StartProfiling("transcode-pipeline")
	app.Run()
}
