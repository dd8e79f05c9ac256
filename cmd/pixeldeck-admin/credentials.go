package main

import (
	"bufio"
	"database/sql"
	"errors"
	"os"
	"strings"

	"github.com/pixeldeck/pixeldeck/internal/bootstrap"
	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/service"
)

// credentialService builds the credential tier for one command invocation.
func credentialService(ctx *commandContext, db *sql.DB) (*service.CredentialService, error) {
	repo := data.NewCredentialRepo(db, data.CredentialRepoConfig{
		Logger:    ctx.Logger,
		Encryptor: bootstrap.CreateEncryptor(ctx.Config.CredentialsEncryptionKey, ctx.Logger),
	})
	return service.NewCredentialService(service.CredentialServiceOptions{
		Repo:      repo,
		EnvPrefix: ctx.Config.Engine.CredentialEnvPrefix,
		Logger:    ctx.Logger,
	})
}

// runCredentialSet stores a credential. The value is read from stdin rather
// than argv so it never shows up in shell history or process listings.
func runCredentialSet(ctx *commandContext, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pixeldeck-admin credential-set <service>")
	}

	db, closeDB, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	svc, err := credentialService(ctx, db)
	if err != nil {
		return err
	}

	if err := writef(os.Stderr, "credential value for %q (end with newline): ", args[0]); err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	value = strings.TrimRight(value, "\r\n")
	if value == "" {
		return errors.New("credential value must not be empty")
	}

	if err := svc.Set(ctx.Ctx, args[0], value); err != nil {
		return err
	}
	ctx.Logger.Info("credential stored", "service", args[0])
	return nil
}

func runCredentialDelete(ctx *commandContext, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pixeldeck-admin credential-delete <service>")
	}

	db, closeDB, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	svc, err := credentialService(ctx, db)
	if err != nil {
		return err
	}

	if err := svc.Delete(ctx.Ctx, args[0]); err != nil {
		return err
	}
	ctx.Logger.Info("credential deleted", "service", args[0])
	return nil
}

func runCredentialList(ctx *commandContext, _ []string) error {
	db, closeDB, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	svc, err := credentialService(ctx, db)
	if err != nil {
		return err
	}

	services, err := svc.ListServices(ctx.Ctx)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return writef(os.Stdout, "no stored credentials\n")
	}
	for _, name := range services {
		if err := writef(os.Stdout, "%s\n", name); err != nil {
			return err
		}
	}
	return nil
}
