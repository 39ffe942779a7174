package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diwise/integration-smartbed/domain"
	"github.com/diwise/integration-smartbed/internal/pkg/application"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
)

type Router interface {
	Start(port string) error
}

type routerStruct struct {
	router chi.Router
	app    application.SmartBed
	log    zerolog.Logger
}

func SetupRouter(chiRouter chi.Router, log zerolog.Logger, app application.SmartBed, hub *Hub, metrics http.Handler) *routerStruct {
	r := &routerStruct{
		router: chiRouter,
		app:    app,
		log:    log,
	}

	chiRouter.Use(middleware.Logger)
	chiRouter.Get("/health", r.health)

	if metrics != nil {
		chiRouter.Handle("/metrics", metrics)
	}

	chiRouter.Route("/api", func(api chi.Router) {
		api.Get("/state", r.state)
		api.Get("/occupancy", r.occupancy)
		api.Get("/channels/{channel}", r.channel)
		api.Get("/actuators", r.actuators)
		api.Get("/actuators/{actuator}", r.actuator)
		api.Post("/actuators/{actuator}/{command}", r.control)
		api.Get("/alerts", r.alerts)

		if hub != nil {
			api.Handle("/events", hub)
		}
	})

	return r
}

func (r *routerStruct) Start(port string) error {
	r.log.Info().Str("port", port).Msg("starting to listen for connections")
	return http.ListenAndServe(fmt.Sprintf(":%s", port), r.router)
}

func (router *routerStruct) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (router *routerStruct) state(w http.ResponseWriter, r *http.Request) {
	router.respond(w, http.StatusOK, router.app.Snapshot())
}

func (router *routerStruct) occupancy(w http.ResponseWriter, r *http.Request) {
	router.respond(w, http.StatusOK, router.app.Occupancy())
}

func (router *routerStruct) channel(w http.ResponseWriter, r *http.Request) {
	snapshot, err := router.app.Channel(domain.ChannelName(chi.URLParam(r, "channel")))
	if err != nil {
		router.fail(w, err)
		return
	}

	router.respond(w, http.StatusOK, snapshot)
}

func (router *routerStruct) actuators(w http.ResponseWriter, r *http.Request) {
	router.respond(w, http.StatusOK, router.app.Actuators())
}

func (router *routerStruct) actuator(w http.ResponseWriter, r *http.Request) {
	name, err := domain.ParseActuatorName(chi.URLParam(r, "actuator"))
	if err != nil {
		router.fail(w, err)
		return
	}

	state, err := router.app.Actuator(name)
	if err != nil {
		router.fail(w, err)
		return
	}

	router.respond(w, http.StatusOK, state)
}

func (router *routerStruct) control(w http.ResponseWriter, r *http.Request) {
	name, err := domain.ParseActuatorName(chi.URLParam(r, "actuator"))
	if err != nil {
		router.fail(w, err)
		return
	}

	req := application.ControlRequest{}

	err = json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		router.fail(w, fmt.Errorf("%w: %s", domain.ErrInvalidRequest, err.Error()))
		return
	}

	err = router.app.Control(r.Context(), name, chi.URLParam(r, "command"), req)
	if err != nil {
		router.fail(w, err)
		return
	}

	state, _ := router.app.Actuator(name)
	router.respond(w, http.StatusOK, state)
}

func (router *routerStruct) alerts(w http.ResponseWriter, r *http.Request) {
	router.respond(w, http.StatusOK, router.app.Alerts())
}

func (router *routerStruct) respond(w http.ResponseWriter, code int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		router.log.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func (router *routerStruct) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrUnknownActuator), errors.Is(err, domain.ErrUnknownChannel), errors.Is(err, domain.ErrUnknownCommand):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrActuatorOff):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrCommandFailed):
		code = http.StatusBadGateway
	}

	if code >= http.StatusInternalServerError {
		router.log.Error().Err(err).Msg("request failed")
	}

	router.respond(w, code, struct {
		Error string `json:"error"`
	}{err.Error()})
}
