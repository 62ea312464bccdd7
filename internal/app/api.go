package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/MrWong99/samplechan/internal/observe"
	"github.com/MrWong99/samplechan/pkg/audio"
	"github.com/MrWong99/samplechan/pkg/audio/soft"
)

// channelView is the JSON form of a channel in the API.
type channelView struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Loaded    bool    `json:"loaded"`
	Playing   bool    `json:"playing"`
	Looping   bool    `json:"looping"`
	Volume    float64 `json:"volume"`
	Balance   float64 `json:"balance"`
	Frequency float64 `json:"frequency"`
}

type devicesView struct {
	Current int                `json:"current"`
	Devices []audio.DeviceInfo `json:"devices"`
}

type errorView struct {
	Error string `json:"error"`
}

// registerAPI adds the channel and device control routes to mux.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /channels", a.listChannels)
	mux.HandleFunc("POST /channels/{name}/play", a.playChannel)
	mux.HandleFunc("POST /channels/{name}/stop", a.stopChannel)
	mux.HandleFunc("GET /devices", a.listDevices)
	mux.HandleFunc("POST /devices/{index}", a.selectDevice)
}

func (a *App) view(name string) (channelView, bool) {
	a.mu.Lock()
	e, ok := a.channels[name]
	a.mu.Unlock()
	if !ok {
		return channelView{}, false
	}
	return channelView{
		ID:        e.ch.ID(),
		Name:      e.ch.Name(),
		Loaded:    e.ch.IsLoaded(),
		Playing:   e.ch.Playing(),
		Looping:   e.ch.Looping(),
		Volume:    e.params.AggregateVolume(),
		Balance:   e.params.AggregateBalance(),
		Frequency: e.params.AggregateFrequency(),
	}, true
}

func (a *App) listChannels(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	names := make([]string, 0, len(a.channels))
	for name := range a.channels {
		names = append(names, name)
	}
	a.mu.Unlock()
	slices.Sort(names)

	out := make([]channelView, 0, len(names))
	for _, name := range names {
		if v, ok := a.view(name); ok {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// playChannel starts the channel. ?restart=false resumes instead of
// rewinding an existing voice.
func (a *App) playChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ch, ok := a.Channel(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorView{Error: "unknown channel " + strconv.Quote(name)})
		return
	}
	restart := true
	if q := r.URL.Query().Get("restart"); q != "" {
		v, err := strconv.ParseBool(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorView{Error: "restart: " + err.Error()})
			return
		}
		restart = v
	}
	ctx, span := observe.StartSpan(r.Context(), "samplechan.channel.play",
		observe.ChannelKey.String(name),
		observe.RestartKey.Bool(restart),
	)
	ch.Play(restart)
	observe.EndSpan(span, nil)
	observe.Logger(ctx, a.logger).Debug("channel play requested", "channel", name, "restart", restart)
	v, _ := a.view(name)
	writeJSON(w, http.StatusAccepted, v)
}

func (a *App) stopChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ch, ok := a.Channel(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorView{Error: "unknown channel " + strconv.Quote(name)})
		return
	}
	ctx, span := observe.StartSpan(r.Context(), "samplechan.channel.stop", observe.ChannelKey.String(name))
	ch.Stop()
	observe.EndSpan(span, nil)
	observe.Logger(ctx, a.logger).Debug("channel stop requested", "channel", name)
	v, _ := a.view(name)
	writeJSON(w, http.StatusAccepted, v)
}

func (a *App) listDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, devicesView{
		Current: a.engine.Device(),
		Devices: a.engine.Devices(),
	})
}

func (a *App) selectDevice(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "index: " + err.Error()})
		return
	}
	if err := a.switchDevice(r.Context(), index); err != nil {
		observe.Logger(r.Context(), a.logger).Warn("device switch failed", "device", index, "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, soft.ErrUnknownDevice) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorView{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, devicesView{
		Current: a.engine.Device(),
		Devices: a.engine.Devices(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode"}`, http.StatusInternalServerError)
	}
}
