package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	schedulercmd "strategyexecutor/cmd/scheduler"
	seedcmd "strategyexecutor/cmd/seed"
	servercmd "strategyexecutor/cmd/server"
)

var Version string

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()

	app := cli.NewApp()
	app.Name = "strategyexecutor"
	app.Usage = "The execution & risk core command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		serverCMD,
		schedulerCMD,
		seedCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the HTTP API server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the execution & risk core HTTP API`,
	}
	schedulerCMD = cli.Command{
		Name:        "scheduler",
		Usage:       "run the cron scheduler",
		Action:      schedulerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the ScheduledJob cron loop`,
	}
	seedCMD = cli.Command{
		Name:      "seed",
		Usage:     "apply a YAML seed file",
		Action:    seedAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "file",
				Usage: "path to the seed document",
				Value: "seed.yaml",
			},
		},
		Description: `Load users, groups, RMS configs, strategies and webhooks from a YAML fixture`,
	}
)

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting server CMD")

	srv := &servercmd.Server{}
	if err := srv.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func schedulerAction(_ *cli.Context) error {
	logrus.Info("Starting scheduler CMD")

	sched := &schedulercmd.Scheduler{}
	if err := sched.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func seedAction(c *cli.Context) error {
	logrus.Info("Starting seed CMD")

	seeder := &seedcmd.Seeder{Path: c.String("file")}
	if err := seeder.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}
