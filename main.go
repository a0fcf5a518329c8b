// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CrawX/go-imap-mirror/auth"
	"github.com/CrawX/go-imap-mirror/config"
	"github.com/CrawX/go-imap-mirror/credential"
	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/engine"
	"github.com/CrawX/go-imap-mirror/events"
	"github.com/CrawX/go-imap-mirror/imapconnection"
	"github.com/CrawX/go-imap-mirror/log"
	"github.com/CrawX/go-imap-mirror/persistence"
	"github.com/CrawX/go-imap-mirror/scheduler"
	"github.com/CrawX/go-imap-mirror/watcher"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	configFile := flag.String("config", "config.toml", "configuration file")
	logFile := flag.String("logfile", "", "append logs to this file instead of stderr")
	setToken := flag.String("set-token", "", "read a token from stdin, store it under this credential ref and exit")
	flag.Parse()

	log.InitLogging("debug")
	logger := log.Logger(log.LOG_MAIN)

	conf, err := config.ReadConfig(*configFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	ring, err := credential.Open(conf.Keyring.Service, conf.Keyring.Backend, conf.Keyring.FileDir)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not open keyring")
	}

	if *setToken != "" {
		token, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && token == "" {
			logger.WithField("error", err).Fatal("Could not read token")
		}
		if err := credential.Store(ring, *setToken, strings.TrimSpace(token)); err != nil {
			logger.WithField("error", err).Fatal("Could not store token")
		}
		logger.WithField("ref", *setToken).Info("Stored token")
		return
	}

	p, err := persistence.NewPersistence(conf.Driver, conf.Database)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not connect to database")
	}
	defer p.Close()

	sessions := auth.NewConnector(credential.NewKeyringProvider(ring), imapconnection.Timeout(conf.CommandTimeout.Duration))

	w, err := watcher.NewWatcher(
		watcher.IdleRefresh(conf.IdleRefresh.Duration),
		watcher.PollInterval(conf.PollInterval.Duration),
	)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not start push watcher")
	}

	e := engine.NewEngine(
		p,
		sessions,
		events.NewBridge(conf.EventQueueSize),
		w,
		scheduler.BatchSize(conf.BatchSize),
		scheduler.MaxRetries(conf.MaxRetries),
		scheduler.Backoff(conf.BackoffInitial.Duration, conf.BackoffMax.Duration),
		scheduler.FlagWindow(conf.FlagWindow),
	)

	if conf.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.WithField("listen", conf.MetricsListen).Info("Serving metrics")
			err := http.ListenAndServe(conf.MetricsListen, mux)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithField("error", err).Error("Metrics endpoint stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := e.Subscribe(0)
	go func() {
		for event := range errs.Events() {
			if ev, ok := event.(domain.ErrorEvent); ok {
				logger.WithFields(logrus.Fields{"account": ev.Account, "kind": ev.Kind, "error": ev.Err}).Error("Account failed")
			}
		}
	}()

	if err := e.Start(ctx); err != nil {
		logger.WithField("error", err).Fatal("Could not start engine")
	}

	setups := make([]engine.AccountSetup, 0, len(conf.Accounts))
	for _, a := range conf.Accounts {
		if a.Id == "" {
			// stable across restarts so the cache is reused
			a.Id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("imap://"+a.Email+"@"+a.ImapHost)).String()
		}
		setups = append(setups, engine.AccountSetup{
			Account: &domain.Account{
				Id:            a.Id,
				Email:         a.Email,
				ImapHost:      a.ImapHost,
				Mechanism:     mechanism(a.Mechanism),
				CredentialRef: a.CredentialRef,
			},
			Folders: a.Folders,
		})
	}
	logger.WithField("accounts", len(setups)).Info("Synchronizing accounts")
	if err := e.AddAccounts(ctx, setups); err != nil {
		logger.WithField("error", err).Warn("Not every account could be added")
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := e.Shutdown(); err != nil {
		logger.WithField("error", err).Error("Shutdown failed")
	}
}

func mechanism(configured string) domain.Mechanism {
	switch strings.ToLower(configured) {
	case "xoauth2":
		return domain.MechanismXOAuth2
	case "oauthbearer":
		return domain.MechanismOAuthBearer
	}
	return domain.MechanismAuto
}
