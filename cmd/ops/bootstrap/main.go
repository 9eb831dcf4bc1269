// Package main implements the bootstrap CLI for a C-Haines environment.
//
// It stores the PostGIS connection string in SSM Parameter Store, where the
// services read it through DATABASE_URL_SSM_PARAM. With -migrate it also
// applies the schema.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap -env=dev
//	go run ./cmd/ops/bootstrap -env=prod -profile=wps-prod -migrate
//	echo "$DSN" | go run ./cmd/ops/bootstrap -env=test -overwrite
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/jackc/pgx/v5"

	"github.com/abschwenker/wps/internal/db"
)

var validEnvironments = map[string]bool{"dev": true, "test": true, "prod": true}

type options struct {
	env       string
	profile   string
	region    string
	overwrite bool
	migrate   bool
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, logger); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.env, "env", "", "Target environment: dev, test or prod (required)")
	fs.StringVar(&o.profile, "profile", "", "AWS shared config profile")
	fs.StringVar(&o.region, "region", "ca-central-1", "AWS region")
	fs.BoolVar(&o.overwrite, "overwrite", false, "Replace an existing database URL parameter")
	fs.BoolVar(&o.migrate, "migrate", false, "Apply the schema and register prediction models")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if !validEnvironments[o.env] {
		return o, fmt.Errorf("-env must be one of dev, test, prod; got %q", o.env)
	}
	return o, nil
}

func run(ctx context.Context, o options, stdin io.Reader, logger *slog.Logger) error {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(o.region))
	if o.profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(o.profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	identity, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(idCtx, &sts.GetCallerIdentityInput{})
	cancel()
	if err != nil {
		return fmt.Errorf("verifying AWS identity (profile %q, region %q): %w", o.profile, o.region, err)
	}
	logger.Info("AWS identity verified",
		"account_id", aws.ToString(identity.Account),
		"arn", aws.ToString(identity.Arn),
		"env", o.env,
	)

	in := bufio.NewScanner(stdin)
	if o.env == "prod" && !confirm(in, os.Stderr, aws.ToString(identity.Account)) {
		return fmt.Errorf("aborted by operator")
	}

	b := &Bootstrapper{
		SSM:       NewSSMManager(ssm.NewFromConfig(awsCfg), o.env, logger),
		Validator: NewValidator(pgxConnector{}),
		In:        in,
		Out:       os.Stderr,
		Logger:    logger,
	}
	if o.migrate {
		b.Migrate = migrateWithPgx
	}
	return b.Run(ctx, o.overwrite)
}

func confirm(in *bufio.Scanner, out io.Writer, account string) bool {
	fmt.Fprintf(out, "You are targeting PRODUCTION (account %s). Type 'yes' to continue: ", account)
	if !in.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(in.Text()), "yes")
}

// migrateWithPgx applies the schema over a single connection.
func migrateWithPgx(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting for migration: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return db.ApplySchema(ctx, conn)
}
