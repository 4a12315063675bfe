package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-listings-client/activity"
	"github.com/jrsteele09/go-listings-client/cache"
	"github.com/jrsteele09/go-listings-client/client"
	"github.com/jrsteele09/go-listings-client/internal/config"
	"github.com/jrsteele09/go-listings-client/remote/httpstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: listings [flags] <command> [args]

commands:
  listings                 list listings
  brokers                  list brokers
  favorites                list the signed in user's favorites
  favorite <listing id>    toggle a favorite
  support <subject> <body> send a support message
  activity                 print this run's activity
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Error().Err(err).Msg("listings failed")
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	flags := flag.NewFlagSet("listings", flag.ContinueOnError)
	envFile := flags.String("env", "", "env file to load")
	email := flags.String("email", os.Getenv("LISTINGS_EMAIL"), "sign in email")
	password := flags.String("password", os.Getenv("LISTINGS_PASSWORD"), "sign in password")
	banner := flags.Bool("banner", true, "print the banner")
	flags.Usage = func() { fmt.Fprint(flags.Output(), usage) }
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("no command given")
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	if err := config.Load(envFiles...); err != nil {
		return err
	}
	c := config.New()
	setupLogging(c)
	if *banner {
		displayAppname(c.GetAppName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lc, closeAll, err := newClient(ctx, c)
	if err != nil {
		return err
	}
	defer closeAll()

	lc.Bootstrap(ctx)
	if *email != "" {
		state, err := lc.SignIn(ctx, *email, *password)
		if err != nil {
			return errors.Wrap(err, "sign in")
		}
		fmt.Fprintf(out, "signed in as %s (%s)\n", state.Profile.DisplayName, state.Profile.Role)
	}

	err = runCommand(ctx, lc, flags.Arg(0), flags.Args()[1:], out)
	idleCtx, cancel := context.WithTimeout(context.Background(), c.GetCallTimeout())
	defer cancel()
	if idleErr := lc.Idle(idleCtx); idleErr != nil {
		log.Warn().Err(idleErr).Msg("Background work still running at exit")
	}
	return err
}

func setupLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Str("app", c.GetAppName()).Str("env", c.GetEnv()).Logger()
}

// newClient wires the HTTP backend, the profile cache and the optional
// activity forwarder from configuration.
func newClient(ctx context.Context, c config.Config) (*client.Client, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	storeOpts := []httpstore.Option{
		httpstore.WithAPIKey(c.GetAPIKey()),
		httpstore.WithClientCredentials(c.GetClientID(), c.GetClientSecret()),
	}
	if tokenURL := c.GetTokenURL(); tokenURL != "" {
		storeOpts = append(storeOpts, httpstore.WithTokenURL(tokenURL))
	}
	if issuer := c.GetIssuer(); issuer != "" {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "discover issuer %s", issuer)
		}
		storeOpts = append(storeOpts, httpstore.WithVerifier(provider.Verifier(&oidc.Config{SkipClientIDCheck: true})))
	}
	remoteStore, err := httpstore.New(c.GetBaseURL(), storeOpts...)
	if err != nil {
		return nil, nil, err
	}

	var cacheStore cache.Store
	switch c.GetCacheBackend() {
	case config.CacheBackendRedis:
		rdb, err := cache.NewRedisClient(c.GetRedisAddr(), c.GetRedisPassword(), c.GetRedisDB())
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		cacheStore = cache.NewRedisStore(rdb, c.GetRedisPrefix())
	case config.CacheBackendFile:
		fs, err := cache.NewFileStore(c.GetCacheFile())
		if err != nil {
			return nil, nil, err
		}
		cacheStore = fs
	default:
		return nil, nil, errors.Errorf("unknown cache backend %q", c.GetCacheBackend())
	}

	clientOpts := []client.Option{client.WithTimeout(c.GetCallTimeout())}
	if url := c.GetRabbitURL(); url != "" {
		conn, ch, err := activity.DialRabbit(url)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = ch.Close(); _ = conn.Close() })
		publisher, err := activity.NewRabbitPublisher(ch, c.GetActivityQueue())
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		clientOpts = append(clientOpts, client.WithActivityPublisher(publisher))
	}

	lc, err := client.New(remoteStore, cacheStore, clientOpts...)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, lc.Close)
	return lc, closeAll, nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
