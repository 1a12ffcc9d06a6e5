package main

import (
	"github.com/mikeyoung304/expo-sync/internal/app"
	"github.com/mikeyoung304/expo-sync/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
