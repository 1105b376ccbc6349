package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/audio"
	"github.com/guidoenr/partivision/internal/automation"
	"github.com/guidoenr/partivision/internal/capture"
	"github.com/guidoenr/partivision/internal/console"
	"github.com/guidoenr/partivision/internal/params"
	"github.com/guidoenr/partivision/internal/pipeline"
	"github.com/guidoenr/partivision/internal/render"
	"github.com/guidoenr/partivision/internal/visual"
)

// Controller is the pipeline surface the server drives.
type Controller interface {
	Status() pipeline.Status
	Params() params.Parameters
	SetParameters(p params.Parameters) (params.Parameters, error)
	UpdateCamera(fn func(*params.Camera))
	SetCameraMode(mode string) error
	Load(name string) error
	Play() error
	Pause()
	TogglePlay() error
	Seek(fraction float64) error
	SetVolume(percent float64)
	SetVisual(name string) error
	SetResolution(mode string) error
	SetFFTSize(n int) error
	SetBackground(name string) error
	ToggleRecord() (capture.State, error)
	Snapshot() (string, error)
	QueueTransition(model string, delaySeconds float64) error
	ToggleMacro(name string) (bool, error)
	SetMacro(name string, on bool) error
	TuneMacro(name string, speed, intensity *float64) error
	Macros() []automation.Macro
	ApplyPreset(name string) error
	Execute(line string) error
	Console() *console.Console
}

// Config configures a Server.
type Config struct {
	// SavePath is where POST /api/save writes the CLI config file and GET reads it back.
	SavePath string
	// StatusInterval is the websocket status broadcast period.
	StatusInterval time.Duration
	Log            *log.Logger
}

// Server is the HTTP and websocket control surface.
type Server struct {
	cfg       Config
	ctrl      Controller
	log       *log.Logger
	mu        sync.RWMutex
	clients   map[*websocketClient]bool
	broadcast chan []byte
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// Message is one websocket frame: a status snapshot or a console entry.
type Message struct {
	Type   string           `json:"type"`
	Status *pipeline.Status `json:"status,omitempty"`
	Entry  *console.Entry   `json:"entry,omitempty"`
}

// ControlRequest is the body of POST /api/control.
type ControlRequest struct {
	Action string  `json:"action"`
	Name   string  `json:"name,omitempty"`
	Value  float64 `json:"value,omitempty"`
	Delay  float64 `json:"delay,omitempty"`
	On     *bool   `json:"on,omitempty"`
	// Speed and Intensity tune a macro when present.
	Speed     *float64 `json:"speed,omitempty"`
	Intensity *float64 `json:"intensity,omitempty"`
}

// ParamsRequest is a partial update for POST /api/params.
type ParamsRequest struct {
	Size            *float64 `json:"size,omitempty"`
	ColorIntensity  *float64 `json:"colorIntensity,omitempty"`
	BloomStrength   *float64 `json:"bloomStrength,omitempty"`
	TargetFPS       *int     `json:"targetFps,omitempty"`
	ResolutionScale *int     `json:"resolutionScale,omitempty"`
	CameraMode      *string  `json:"cameraMode,omitempty"`
	CameraDistance  *float64 `json:"cameraDistance,omitempty"`
	CameraSpeed     *float64 `json:"cameraSpeed,omitempty"`
	FOV             *float64 `json:"fov,omitempty"`
}

// SavedConfig uses the CLI flag names as keys so the file feeds straight back into
// the flag parser.
type SavedConfig struct {
	Visual         string  `json:"visual"`
	FPS            int     `json:"fps"`
	Scale          int     `json:"scale"`
	Resolution     string  `json:"resolution"`
	FFTSize        int     `json:"fft-size"`
	Size           float64 `json:"size"`
	ColorIntensity float64 `json:"color-intensity"`
	Bloom          float64 `json:"bloom"`
	Camera         string  `json:"camera"`
	Distance       float64 `json:"distance"`
	Background     string  `json:"background"`
	Macros         string  `json:"macros"`
}

// NewServer builds a server around ctrl. Console entries are relayed to every
// websocket client.
func NewServer(ctrl Controller, cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", log.LstdFlags)
	}
	if cfg.SavePath == "" {
		cfg.SavePath = "partivision.json"
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 500 * time.Millisecond
	}
	s := &Server{
		cfg:       cfg,
		ctrl:      ctrl,
		log:       cfg.Log,
		clients:   make(map[*websocketClient]bool),
		broadcast: make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/control", s.handleControl)
	s.mux.HandleFunc("/api/params", s.handleParams)
	s.mux.HandleFunc("/api/save", s.handleSave)
	s.mux.HandleFunc("/api/visuals", s.handleList(func() any { return visual.Names() }))
	s.mux.HandleFunc("/api/macros", s.handleList(func() any { return ctrl.Macros() }))
	s.mux.HandleFunc("/api/presets", s.handleList(func() any { return params.PresetNames() }))
	s.mux.HandleFunc("/api/backgrounds", s.handleList(func() any { return render.BackgroundNames() }))
	s.mux.HandleFunc("/api/cameras", s.handleList(func() any { return params.CameraModeNames() }))
	s.mux.HandleFunc("/api/palettes", s.handleList(func() any { return render.PaletteNames() }))
	s.mux.HandleFunc("/api/fft-sizes", s.handleList(func() any { return analyzer.AnalysisSizes() }))
	s.mux.HandleFunc("/api/logs", s.handleList(func() any { return ctrl.Console().Entries() }))
	s.mux.HandleFunc("/api/console", s.handleConsole)
	s.mux.HandleFunc("/ws", s.handleWebSocket)

	ctrl.Console().OnEntry(func(e console.Entry) {
		s.publish(Message{Type: "log", Entry: &e})
	})
	return s
}

// Handler exposes the routes for embedding or tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	s.log.Printf("[web] server starting on http://0.0.0.0%s", addr)

	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"status": "error", "error": err.Error()})
}

// errorStatus maps pipeline errors onto HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, visual.ErrUnknownModel),
		errors.Is(err, params.ErrInvalidParameter),
		errors.Is(err, params.ErrUnknownPreset),
		errors.Is(err, automation.ErrUnknownMacro),
		errors.Is(err, console.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrNoSourceLoaded),
		errors.Is(err, capture.ErrCaptureInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleList(fn func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, fn())
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.apply(req)
	if err != nil {
		writeError(w, err)
		return
	}
	resp["status"] = "ok"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) apply(req ControlRequest) (map[string]any, error) {
	c := s.ctrl
	resp := map[string]any{}
	var err error
	switch strings.ToLower(req.Action) {
	case "load":
		err = c.Load(req.Name)
	case "play":
		err = c.Play()
	case "pause":
		c.Pause()
	case "toggle":
		err = c.TogglePlay()
	case "seek":
		err = c.Seek(req.Value)
	case "volume":
		c.SetVolume(req.Value)
	case "visual":
		err = c.SetVisual(req.Name)
	case "resolution":
		err = c.SetResolution(req.Name)
	case "fftsize", "fft-size":
		err = c.SetFFTSize(int(req.Value))
	case "background":
		err = c.SetBackground(req.Name)
	case "record":
		var st capture.State
		st, err = c.ToggleRecord()
		resp["recorder"] = st.String()
	case "snapshot":
		var path string
		path, err = c.Snapshot()
		resp["path"] = path
	case "transition":
		err = c.QueueTransition(req.Name, req.Delay)
	case "macro":
		if req.Speed != nil || req.Intensity != nil {
			if err = c.TuneMacro(req.Name, req.Speed, req.Intensity); err != nil {
				break
			}
		}
		if req.On != nil {
			err = c.SetMacro(req.Name, *req.On)
			resp["active"] = *req.On
		} else if req.Speed == nil && req.Intensity == nil {
			var on bool
			on, err = c.ToggleMacro(req.Name)
			resp["active"] = on
		}
	case "preset":
		err = c.ApplyPreset(req.Name)
	case "camera":
		err = c.SetCameraMode(req.Name)
	default:
		err = fmt.Errorf("%w: action %q", params.ErrInvalidParameter, req.Action)
	}
	return resp, err
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.ctrl.Params())
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// merge only the fields present in the request
	p := s.ctrl.Params()
	if req.Size != nil {
		p.Size = *req.Size
	}
	if req.ColorIntensity != nil {
		p.ColorIntensity = *req.ColorIntensity
	}
	if req.BloomStrength != nil {
		p.BloomStrength = *req.BloomStrength
	}
	if req.TargetFPS != nil {
		p.TargetFPS = *req.TargetFPS
	}
	if req.ResolutionScale != nil {
		p.ResolutionScale = *req.ResolutionScale
	}
	applied, verr := s.ctrl.SetParameters(p)

	if req.CameraMode != nil {
		if err := s.ctrl.SetCameraMode(*req.CameraMode); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.CameraDistance != nil || req.CameraSpeed != nil || req.FOV != nil {
		s.ctrl.UpdateCamera(func(cam *params.Camera) {
			if req.CameraDistance != nil {
				cam.Distance = *req.CameraDistance
			}
			if req.CameraSpeed != nil {
				cam.Speed = *req.CameraSpeed
			}
			if req.FOV != nil {
				cam.SetFOV(*req.FOV)
			}
		})
	}

	resp := map[string]any{"status": "ok", "params": applied}
	if verr != nil {
		// values were clamped, not rejected
		resp["warning"] = verr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctrl.Execute(req.Command); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Console().Entries())
}

// CurrentConfig captures the running state under the CLI flag names.
func (s *Server) CurrentConfig() SavedConfig {
	st := s.ctrl.Status()
	var macros []string
	for _, m := range s.ctrl.Macros() {
		if m.Active {
			macros = append(macros, m.Name)
		}
	}
	return SavedConfig{
		Visual:         st.Visual,
		FPS:            st.Params.TargetFPS,
		Scale:          st.Params.ResolutionScale,
		Resolution:     st.Resolution,
		FFTSize:        st.FFTSize,
		Size:           st.Params.Size,
		ColorIntensity: st.Params.ColorIntensity,
		Bloom:          st.Params.BloomStrength,
		Camera:         string(st.Camera.Mode),
		Distance:       st.Camera.Distance,
		Background:     st.Background,
		Macros:         strings.Join(macros, ","),
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		config, err := loadConfig(s.cfg.SavePath)
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "no saved config", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to load config: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, config)
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	config := s.CurrentConfig()
	if err := saveConfig(s.cfg.SavePath, config); err != nil {
		http.Error(w, fmt.Sprintf("failed to save config: %v", err), http.StatusInternalServerError)
		return
	}
	s.ctrl.Console().Log(console.TagDaemon, "Config saved to %s", s.cfg.SavePath)
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": s.cfg.SavePath})
}

func saveConfig(path string, config SavedConfig) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func loadConfig(path string) (*SavedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config SavedConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("[web] websocket upgrade error: %v", err)
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

func (s *Server) publish(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
		// drop if channel full (non-blocking)
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.ctrl.Status()
			s.publish(Message{Type: "status", Status: &st})
		}
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.mu.Lock()
		if _, ok := c.server.clients[c]; ok {
			delete(c.server.clients, c)
			close(c.send)
		}
		c.server.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// clients may send control requests over the socket as well
		var req ControlRequest
		if json.Unmarshal(data, &req) == nil && req.Action != "" {
			if _, err := c.server.apply(req); err != nil {
				c.server.log.Printf("[web] ws control %s: %v", req.Action, err)
			}
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
