package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"nerfbot-server-go/internal/bootstrap"
	"nerfbot-server-go/internal/platform/config"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to config.yaml")
	pflag.Parse()

	fmt.Printf("[%s] [INFO] [引导] 开始启动 nerfbot-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), bootstrap.Options{ConfigPath: *configPath}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "nerfbot-server failed: %v\n", err)
		os.Exit(1)
	}
}
