package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/partsearch/internal/apperrors"
	"github.com/nkiryanov/partsearch/internal/events"
	"github.com/nkiryanov/partsearch/internal/models"
	"github.com/nkiryanov/partsearch/internal/service/orchestrator"
)

type command struct {
	// Where the user is while the command runs
	path string
	run  func(ctx context.Context, app *App, args []string, out io.Writer) error
}

var commands = map[string]command{
	"login":          {path: events.PathSignIn, run: runLogin},
	"register":       {path: events.PathSignUp, run: runRegister},
	"logout":         {path: "/", run: runLogout},
	"whoami":         {path: "/", run: runWhoami},
	"profile":        {path: "/profile", run: runProfile},
	"password":       {path: "/profile", run: runPassword},
	"reset-password": {path: events.PathSignIn, run: runResetPassword},
	"search":         {path: "/search", run: runSearch},
	"history":        {path: "/history", run: runHistory},
	"result":         {path: "/results", run: runResult},
}

func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

func runLogin(ctx context.Context, app *App, args []string, out io.Writer) error {
	var creds models.LoginCredentials
	fs := newFlagSet("login")
	fs.StringVar(&creds.Email, "email", "", "Account email")
	fs.StringVar(&creds.Password, "password", "", "Account password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := app.Session.Login(ctx, creds)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Signed in as %s\n", user.Email)
	return nil
}

func runRegister(ctx context.Context, app *App, args []string, out io.Writer) error {
	var data models.RegisterData
	fs := newFlagSet("register")
	fs.StringVar(&data.Email, "email", "", "Account email")
	fs.StringVar(&data.Password, "password", "", "Password, at least 8 characters")
	fs.StringVar(&data.Password2, "password2", "", "Password again")
	fs.StringVar(&data.FirstName, "first-name", "", "First name")
	fs.StringVar(&data.LastName, "last-name", "", "Last name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := app.Session.Register(ctx, data)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Account created, signed in as %s\n", user.Email)
	return nil
}

func runLogout(ctx context.Context, app *App, _ []string, out io.Writer) error {
	app.Session.Logout(ctx)
	fmt.Fprintln(out, "Signed out")
	return nil
}

func runWhoami(ctx context.Context, app *App, _ []string, out io.Writer) error {
	app.Session.Probe(ctx)

	user := app.Session.User()
	if user == nil {
		return &messageError{msg: "Not signed in. Run: partsearch login", err: apperrors.ErrUnauthenticated}
	}

	printUser(out, user)
	return nil
}

func runProfile(ctx context.Context, app *App, args []string, out io.Writer) error {
	fs := newFlagSet("profile")
	first := fs.String("first-name", "", "New first name")
	last := fs.String("last-name", "", "New last name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var update models.ProfileUpdate
	if fs.Changed("first-name") {
		update.FirstName = first
	}
	if fs.Changed("last-name") {
		update.LastName = last
	}

	user, err := app.Session.UpdateProfile(ctx, update)
	if err != nil {
		return err
	}

	printUser(out, user)
	return nil
}

func runPassword(ctx context.Context, app *App, args []string, out io.Writer) error {
	var change models.PasswordChange
	fs := newFlagSet("password")
	fs.StringVar(&change.CurrentPassword, "current", "", "Current password")
	fs.StringVar(&change.NewPassword, "new", "", "New password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msg, err := app.Session.ChangePassword(ctx, change)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, msg)
	return nil
}

func runResetPassword(ctx context.Context, app *App, args []string, out io.Writer) error {
	var (
		email   string
		confirm models.PasswordResetConfirm
	)
	fs := newFlagSet("reset-password")
	fs.StringVar(&email, "email", "", "Send a reset link to this address")
	fs.StringVar(&confirm.Token, "token", "", "Token from the reset link")
	fs.StringVar(&confirm.NewPassword, "new", "", "New password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		msg string
		err error
	)
	if confirm.Token != "" {
		msg, err = app.Session.ConfirmPasswordReset(ctx, confirm)
	} else {
		msg, err = app.Session.RequestPasswordReset(ctx, email)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, msg)
	return nil
}

func runSearch(ctx context.Context, app *App, args []string, out io.Writer) error {
	var plate, part, category string
	fs := newFlagSet("search")
	fs.StringVar(&plate, "plate", "", "License plate")
	fs.StringVar(&part, "part", "", "Part name")
	fs.StringVar(&category, "category", "", "Category to pick when the search is ambiguous")
	if err := fs.Parse(args); err != nil {
		return err
	}

	o := app.Orchestrator
	defer o.Reset()

	if st := o.SetPlate(plate); st.PlateError != "" {
		fmt.Fprintln(out, st.PlateError)
	}
	o.SetPart(part)

	st, err := o.WaitVehicle(ctx)
	if err != nil {
		return err
	}
	printVehicle(out, st)

	st, err = o.Submit(ctx)
	if err != nil {
		return searchError(st, err)
	}

	if st.Stage == orchestrator.StageSelectCategory {
		if category == "" {
			printCategories(out, st)
			return nil
		}

		st, err = o.SelectCategory(ctx, category)
		if err != nil {
			return searchError(st, err)
		}
	}

	printLinks(out, st)
	return nil
}

func searchError(st orchestrator.State, err error) error {
	if errors.Is(err, apperrors.ErrSessionExpired) {
		return err
	}

	msg := st.Error
	for _, fieldMsg := range []string{st.PlateError, st.PartError} {
		if fieldMsg != "" {
			msg = fieldMsg
			break
		}
	}
	if msg == "" {
		return err
	}
	return &messageError{msg: msg, err: err}
}

func runHistory(ctx context.Context, app *App, args []string, out io.Writer) error {
	fs := newFlagSet("history")
	limit := fs.Int("limit", 10, "How many searches to show, 0 for all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := app.Search.History(ctx, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No searches yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tITEMS\tCHEAPEST")
	for _, e := range entries {
		cheapest := "-"
		if len(e.Items) > 0 {
			cheapest = e.Items[0].Price.StringFixed(2)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", e.Group.SearchResultID, e.Group.LatestCreatedAt.Local().Format(time.DateTime), e.Group.Count, cheapest)
	}
	return w.Flush()
}

func runResult(ctx context.Context, app *App, args []string, out io.Writer) error {
	if len(args) != 1 {
		return &messageError{msg: "Usage: partsearch result <id>"}
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return &messageError{msg: fmt.Sprintf("Invalid result id %q", args[0]), err: err}
	}

	items, err := app.Search.ResultDetail(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRICE\tTITLE\tURL")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\n", item.Price.StringFixed(2), item.Title, item.URL)
	}
	return w.Flush()
}

func printUser(out io.Writer, u *models.User) {
	fmt.Fprintf(out, "%s\n", u.Email)
	if name := fmt.Sprintf("%s %s", u.FirstName, u.LastName); name != " " {
		fmt.Fprintf(out, "Name: %s\n", name)
	}
	fmt.Fprintf(out, "Member since: %s\n", u.DateJoined.Format(time.DateOnly))
}

func printVehicle(out io.Writer, st orchestrator.State) {
	switch {
	case st.Vehicle != nil:
		v := st.Vehicle
		fmt.Fprintf(out, "Vehicle: %s %s (%d, %s, %s)\n", v.Brand, v.Model, v.BuildYear, v.FuelType, v.CarType)
	case st.VehicleError != "":
		fmt.Fprintln(out, st.VehicleError)
	}
}

func printCategories(out io.Writer, st orchestrator.State) {
	fmt.Fprintln(out, st.CategoryMessage)
	for _, c := range st.Categories {
		fmt.Fprintf(out, "  - %s\n", c)
	}
	fmt.Fprintln(out, "Run again with --category to see links")
}

func printLinks(out io.Writer, st orchestrator.State) {
	fmt.Fprintf(out, "Links for %s:\n", st.SelectedCategory)
	for _, link := range st.Links {
		fmt.Fprintf(out, "  %s\n", link)
	}
}
