// Package cli implements the line-oriented command protocol on top of the
// reservation coordinator and the identity service.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/identity"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/session"
)

// Scheduler is the part of the coordinator the commands drive.
type Scheduler interface {
	Reserve(ctx context.Context, actor reservation.Actor, date, vaccine string) (reservation.Reservation, error)
	Cancel(ctx context.Context, actor reservation.Actor, id int64) error
	UploadAvailability(ctx context.Context, actor reservation.Actor, date string) error
	AdjustDoses(ctx context.Context, actor reservation.Actor, vaccine string, delta int) (int, error)
	SearchSchedule(ctx context.Context, actor reservation.Actor, date string) (reservation.Schedule, error)
	ListAppointments(ctx context.Context, actor reservation.Actor) ([]reservation.Appointment, error)
}

type Accounts interface {
	Register(ctx context.Context, role reservation.Role, username, password string) error
	Verify(ctx context.Context, role reservation.Role, username, password string) (reservation.Actor, error)
}

type Handler struct {
	scheduler Scheduler
	accounts  Accounts
	log       *slog.Logger
}

func NewHandler(scheduler Scheduler, accounts Accounts, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{scheduler: scheduler, accounts: accounts, log: log}
}

const banner = `
Welcome to the COVID-19 Vaccine Reservation Scheduling Application!
*** Please enter one of the following commands ***
> create_patient <username> <password>
> create_caregiver <username> <password>
> login_patient <username> <password>
> login_caregiver <username> <password>
> search_caregiver_schedule <date>
> reserve <date> <vaccine>
> upload_availability <date>
> cancel <appointment_id>
> add_doses <vaccine> <number>
> show_appointments
> logout
> quit
`

// Run reads commands from in until quit, EOF or ctx is done, writing
// prompts and results to out. One session spans the whole stream.
func (h *Handler) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	sess := session.New()
	fmt.Fprint(out, banner+"\n")

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return fmt.Errorf("read command: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}
		if h.Execute(ctx, sess, sc.Text(), out) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Execute runs one command line against sess and reports whether it was quit.
func (h *Handler) Execute(ctx context.Context, sess *session.Session, line string, w io.Writer) (quit bool) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		fmt.Fprintln(w, "Please try again!")
		return false
	}

	switch tokens[0] {
	case "create_patient":
		h.createUser(ctx, reservation.RolePatient, tokens, w)
	case "create_caregiver":
		h.createUser(ctx, reservation.RoleCaregiver, tokens, w)
	case "login_patient":
		h.login(ctx, sess, reservation.RolePatient, tokens, w)
	case "login_caregiver":
		h.login(ctx, sess, reservation.RoleCaregiver, tokens, w)
	case "search_caregiver_schedule":
		h.searchSchedule(ctx, sess, tokens, w)
	case "reserve":
		h.reserve(ctx, sess, tokens, w)
	case "upload_availability":
		h.uploadAvailability(ctx, sess, tokens, w)
	case "cancel":
		h.cancel(ctx, sess, tokens, w)
	case "add_doses":
		h.addDoses(ctx, sess, tokens, w)
	case "show_appointments":
		h.showAppointments(ctx, sess, w)
	case "logout":
		h.logout(sess, tokens, w)
	case "quit":
		fmt.Fprintln(w, "Bye!")
		return true
	default:
		fmt.Fprintln(w, "Invalid operation name!")
	}
	return false
}

func (h *Handler) createUser(ctx context.Context, role reservation.Role, tokens []string, w io.Writer) {
	if len(tokens) != 3 {
		fmt.Fprintln(w, "Failed to create user.")
		return
	}
	username, password := tokens[1], tokens[2]

	err := h.accounts.Register(ctx, role, username, password)
	switch {
	case err == nil:
		fmt.Fprintln(w, "Created user "+username)
	case errors.Is(err, identity.ErrUsernameTaken):
		fmt.Fprintln(w, "Username taken, try again!")
	default:
		h.logFailure("create user", err)
		fmt.Fprintln(w, "Failed to create user.")
	}
}

func (h *Handler) login(ctx context.Context, sess *session.Session, role reservation.Role, tokens []string, w io.Writer) {
	if sess.LoggedIn() {
		fmt.Fprintln(w, "User already logged in.")
		return
	}
	if len(tokens) != 3 {
		fmt.Fprintln(w, "Login failed.")
		return
	}

	actor, err := h.accounts.Verify(ctx, role, tokens[1], tokens[2])
	if err != nil {
		h.logFailure("login", err)
		fmt.Fprintln(w, "Login failed.")
		return
	}
	if err := sess.Login(actor); err != nil {
		if errors.Is(err, session.ErrAlreadyLoggedIn) {
			fmt.Fprintln(w, "User already logged in.")
			return
		}
		fmt.Fprintln(w, "Login failed.")
		return
	}
	fmt.Fprintln(w, "Logged in as: "+actor.Username)
}

func (h *Handler) searchSchedule(ctx context.Context, sess *session.Session, tokens []string, w io.Writer) {
	actor := sess.Current()
	if !actor.Authenticated() {
		fmt.Fprintln(w, "Please login first!")
		return
	}
	if len(tokens) != 2 {
		fmt.Fprintln(w, "Please try again!")
		return
	}

	s, err := h.scheduler.SearchSchedule(ctx, actor, tokens[1])
	if err != nil {
		h.logFailure("search schedule", err)
		fmt.Fprintln(w, "Please try again!")
		return
	}
	for _, c := range s.Caregivers {
		fmt.Fprintln(w, "Caregiver: "+c)
	}
	for _, v := range s.Vaccines {
		fmt.Fprintf(w, "Vaccine: %s Available Doses: %d\n", v.Name, v.DoseCount)
	}
}

func (h *Handler) reserve(ctx context.Context, sess *session.Session, tokens []string, w io.Writer) {
	actor := sess.Current()
	if !actor.Authenticated() {
		fmt.Fprintln(w, "Please login first!")
		return
	}
	if actor.Role != reservation.RolePatient {
		fmt.Fprintln(w, "Please login as a patient first!")
		return
	}
	if len(tokens) != 3 {
		fmt.Fprintln(w, "Please try again!")
		return
	}

	res, err := h.scheduler.Reserve(ctx, actor, tokens[1], tokens[2])
	switch {
	case err == nil:
		fmt.Fprintf(w, "Appointment ID: %d, Caregiver Username: %s\n", res.AppointmentID, res.CaregiverUsername)
	case errors.Is(err, reservation.ErrNoCaregiverAvailable):
		fmt.Fprintln(w, "No Caregiver is available")
	case errors.Is(err, reservation.ErrInsufficientDoses):
		fmt.Fprintln(w, "Not enough available doses!")
	default:
		h.logFailure("reserve", err)
		fmt.Fprintln(w, "Please try again")
	}
}

func (h *Handler) uploadAvailability(ctx context.Context, sess *session.Session, tokens []string, w io.Writer) {
	actor := sess.Current()
	if actor.Role != reservation.RoleCaregiver || !actor.Authenticated() {
		fmt.Fprintln(w, "Please login as a caregiver first!")
		return
	}
	if len(tokens) != 2 {
		fmt.Fprintln(w, "Please try again!")
		return
	}

	err := h.scheduler.UploadAvailability(ctx, actor, tokens[1])
	switch {
	case err == nil:
		fmt.Fprintln(w, "Availability uploaded!")
	case reservation.IsValidation(err):
		fmt.Fprintln(w, "Please enter a valid date!")
	case errors.Is(err, reservation.ErrConflict):
		fmt.Fprintln(w, "Availability already uploaded!")
	default:
		h.logFailure("upload availability", err)
		fmt.Fprintln(w, "Error occurred when uploading availability")
	}
}

func (h *Handler) cancel(ctx context.Context, sess *session.Session, tokens []string, w io.Writer) {
	actor := sess.Current()
	if !actor.Authenticated() {
		fmt.Fprintln(w, "Please login first!")
		return
	}
	if len(tokens) != 2 {
		fmt.Fprintln(w, "Please try again")
		return
	}
	id, err := strconv.ParseInt(tokens[1], 10, 64)
	if err != nil {
		fmt.Fprintln(w, "Please try again")
		return
	}

	if err := h.scheduler.Cancel(ctx, actor, id); err != nil {
		h.logFailure("cancel", err)
		fmt.Fprintln(w, "Please try again")
		return
	}
	fmt.Fprintln(w, "Appointment Canceled")
}

func (h *Handler) addDoses(ctx context.Context, sess *session.Session, tokens []string, w io.Writer) {
	actor := sess.Current()
	if actor.Role != reservation.RoleCaregiver || !actor.Authenticated() {
		fmt.Fprintln(w, "Please login as a caregiver first!")
		return
	}
	if len(tokens) != 3 {
		fmt.Fprintln(w, "Please try again!")
		return
	}
	delta, err := strconv.Atoi(tokens[2])
	if err != nil {
		fmt.Fprintln(w, "Please try again!")
		return
	}

	if _, err := h.scheduler.AdjustDoses(ctx, actor, tokens[1], delta); err != nil {
		h.logFailure("add doses", err)
		fmt.Fprintln(w, "Please try again!")
		return
	}
	fmt.Fprintln(w, "Doses updated!")
}

func (h *Handler) showAppointments(ctx context.Context, sess *session.Session, w io.Writer) {
	actor := sess.Current()
	if !actor.Authenticated() {
		fmt.Fprintln(w, "Please login first")
		return
	}

	appts, err := h.scheduler.ListAppointments(ctx, actor)
	if err != nil {
		h.logFailure("show appointments", err)
		fmt.Fprintln(w, "Please try again!")
		return
	}
	for _, a := range appts {
		if actor.Role == reservation.RolePatient {
			fmt.Fprintf(w, "Appointment ID: %d Vaccine: %s Time: %s Caregiver: %s\n", a.ID, a.VaccineName, a.Date, a.CaregiverUsername)
		} else {
			fmt.Fprintf(w, "Appointment ID: %d Vaccine: %s Time: %s Patient: %s\n", a.ID, a.VaccineName, a.Date, a.PatientUsername)
		}
	}
}

func (h *Handler) logout(sess *session.Session, tokens []string, w io.Writer) {
	if !sess.LoggedIn() {
		fmt.Fprintln(w, "Please login first")
		return
	}
	if len(tokens) != 1 {
		fmt.Fprintln(w, "Please try again!")
		return
	}
	if err := sess.Logout(); err != nil {
		fmt.Fprintln(w, "Please login first")
		return
	}
	fmt.Fprintln(w, "Successfully logged out!")
}

// logFailure keeps storage faults visible to operators; domain outcomes are
// already reported to the user and only logged at debug.
func (h *Handler) logFailure(op string, err error) {
	if errors.Is(err, reservation.ErrStorage) {
		h.log.Error("command failed", slog.String("op", op), slog.Any("err", err))
		return
	}
	h.log.Debug("command rejected", slog.String("op", op), slog.Any("err", err))
}
