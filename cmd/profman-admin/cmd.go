package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/pkg/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type userCreator interface {
	Create(ctx context.Context, actor models.Actor, req dto.CreateUserRequest) (*models.User, error)
}

type commandLine struct {
	migrate func(ctx context.Context, direction database.MigrationDirection) error
	users   userCreator
	out     io.Writer
}

func (cli *commandLine) stdout() io.Writer {
	if cli.out == nil {
		return os.Stdout
	}
	return cli.out
}

func (cli *commandLine) printUsage() {
	w := cli.stdout()
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  migrate up|down|status                              - apply, roll back or list schema migrations")
	fmt.Fprintln(w, "  adduser -email EMAIL -name NAME [-role ROLE]        - create an account, the password is prompted")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		return cli.runMigrate(ctx, args[2:])
	case "adduser":
		return cli.runAddUser(ctx, args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) runMigrate(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}
	direction := database.MigrationDirection(args[0])
	switch direction {
	case database.MigrateUp, database.MigrateDown, database.MigrateStatus:
	default:
		return fmt.Errorf("%q: no such migrate command", args[0])
	}
	return cli.migrate(ctx, direction)
}

func (cli *commandLine) runAddUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(cli.stdout())
	email := fs.String("email", "", "Login email of the new account.")
	name := fs.String("name", "", "Full name shown in rosters and gradebooks.")
	role := fs.String("role", string(models.RoleAdmin), "ADMIN, PROFESSOR or STUDENT.")
	if err := fs.Parse(args); err != nil {
		return errHelp
	}
	if *email == "" || *name == "" {
		fs.Usage()
		return errHelp
	}

	fmt.Fprint(cli.stdout(), "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.stdout())
	if err != nil {
		return err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return errHelp
	}

	user, err := cli.users.Create(ctx, models.Actor{Role: models.RoleAdmin}, dto.CreateUserRequest{
		Email:    strings.ToLower(strings.TrimSpace(*email)),
		FullName: strings.TrimSpace(*name),
		Role:     models.UserRole(strings.ToUpper(*role)),
		Password: string(pwd),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
	return nil
}
