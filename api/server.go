package api

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/krehermann/gcvm/asm"
	"github.com/krehermann/gcvm/heap"
	"github.com/krehermann/gcvm/runner"
	"github.com/krehermann/gcvm/store"
	"github.com/krehermann/gcvm/vm"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type ServerConfig struct {
	ListenerAddr string
	Logger       *zap.Logger
	VM           vm.Config
	// StepLimit bounds every run; zero means unlimited
	StepLimit uint64
	Store     store.Storager
}

type Server struct {
	ServerConfig
	echo *echo.Echo

	logger *zap.Logger
}

func NewServer(config ServerConfig) (*Server, error) {
	if config.Logger == nil {
		config.Logger, _ = zap.NewDevelopment()
	}
	if config.VM == (vm.Config{}) {
		config.VM = vm.DefaultConfig()
	}
	if config.Store == nil {
		config.Store = store.NewMemStore()
	}
	s := &Server{
		ServerConfig: config,
		logger:       config.Logger.Named("api"),
	}
	s.echo = s.routes()

	return s, nil
}

func (s *Server) routes() *echo.Echo {
	echoer := echo.New()
	echoer.HideBanner = true
	echoer.HidePort = true

	echoer.GET("/opcodes", s.handleOpcodes)
	echoer.POST("/assemble", s.handleAssemble)
	echoer.POST("/run", s.handleRun)
	echoer.GET("/programs", s.handleListPrograms)
	echoer.POST("/programs", s.handlePutProgram)
	echoer.GET("/programs/:id", s.handleGetProgram)
	echoer.POST("/programs/:id/run", s.handleRunProgram)

	return echoer
}

// ServeHTTP lets the server be mounted or tested without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.logger.Info("api server starting",
		zap.String("addr", s.ListenerAddr),
		zap.Uint64("stepLimit", s.StepLimit))

	return s.echo.Start(s.ListenerAddr)
}

func (s *Server) Close() error {
	err := s.echo.Close()
	if cerr := s.Store.Close(); err == nil {
		err = cerr
	}
	return err
}

type opcodeInfo struct {
	Name    string `json:"name"`
	Opcode  byte   `json:"opcode"`
	Operand bool   `json:"operand"`
}

func (s *Server) handleOpcodes(ectx echo.Context) error {
	insts := vm.Instructions()
	out := make([]opcodeInfo, 0, len(insts))
	for _, inst := range insts {
		info, _ := vm.Lookup(inst)
		out = append(out, opcodeInfo{
			Name:    info.Name,
			Opcode:  byte(inst),
			Operand: info.OperandLen > 0,
		})
	}
	return ectx.JSON(http.StatusOK,
		map[string]any{
			"opcodes": out,
		})
}

// programRequest carries a program either as assembly source or as
// base64 bytecode.
type programRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Code   []byte `json:"code"`
	Input  string `json:"input"`
	JIT    bool   `json:"jit"`
}

func (r *programRequest) bytecode() ([]byte, error) {
	switch {
	case r.Source != "" && len(r.Code) > 0:
		return nil, errors.New("give either source or code, not both")
	case r.Source != "":
		return asm.AssembleString(r.Source)
	case len(r.Code) > 0:
		return r.Code, nil
	}
	return nil, errors.New("program is empty")
}

func badRequest(ectx echo.Context, err error) error {
	return ectx.JSON(http.StatusBadRequest,
		map[string]any{
			"error": err.Error(),
		})
}

func (s *Server) handleAssemble(ectx echo.Context) error {
	var req programRequest
	if err := ectx.Bind(&req); err != nil {
		return badRequest(ectx, err)
	}
	code, err := asm.AssembleString(req.Source)
	if err != nil {
		return badRequest(ectx, err)
	}
	return ectx.JSON(http.StatusOK,
		map[string]any{
			"code":    code,
			"size":    len(code),
			"listing": asm.DisassembleString(code),
		})
}

func (s *Server) handleRun(ectx echo.Context) error {
	var req programRequest
	if err := ectx.Bind(&req); err != nil {
		return badRequest(ectx, err)
	}
	code, err := req.bytecode()
	if err != nil {
		return badRequest(ectx, err)
	}
	return s.run(ectx, code, req)
}

func (s *Server) handleRunProgram(ectx echo.Context) error {
	p, err := s.Store.Get(ectx.Param("id"))
	if err != nil {
		return s.storeError(ectx, err)
	}
	var req programRequest
	if err := ectx.Bind(&req); err != nil {
		return badRequest(ectx, err)
	}
	return s.run(ectx, p.Code, req)
}

func (s *Server) run(ectx echo.Context, code []byte, req programRequest) error {
	var output bytes.Buffer
	out, err := runner.Run(code, runner.Options{
		Config:    s.VM,
		Compiled:  req.JIT,
		Input:     vm.NewScanInput(strings.NewReader(req.Input)),
		Output:    &output,
		StepLimit: s.StepLimit,
		Logger:    s.logger,
	})
	if out == nil {
		return ectx.JSON(http.StatusInternalServerError,
			map[string]any{
				"error": err.Error(),
			})
	}

	resp := map[string]any{
		"backend": out.Backend,
		"top":     out.Result.Top,
		"empty":   out.Result.Empty,
		"output":  output.String(),
		"steps":   out.Steps,
		"gc":      gcStats(out.Stats),
	}
	if err != nil {
		resp["error"] = err.Error()
		return ectx.JSON(http.StatusUnprocessableEntity, resp)
	}
	return ectx.JSON(http.StatusOK, resp)
}

func gcStats(st heap.Stats) map[string]any {
	return map[string]any{
		"runs":        st.Collections,
		"freed":       st.Freed,
		"gc_time_ms":  float64(st.GCTime.Microseconds()) / 1000,
		"max_heap":    st.PeakWords,
		"allocations": st.Allocations,
	}
}

func (s *Server) handlePutProgram(ectx echo.Context) error {
	var req programRequest
	if err := ectx.Bind(&req); err != nil {
		return badRequest(ectx, err)
	}
	code, err := req.bytecode()
	if err != nil {
		return badRequest(ectx, err)
	}

	p := store.NewProgram(req.Name, code)
	if err := s.Store.Put(p); err != nil {
		return s.storeError(ectx, err)
	}
	s.logger.Info("program stored",
		zap.String("id", p.ID),
		zap.String("name", p.Name),
		zap.Int("size", len(code)))

	return ectx.JSON(http.StatusCreated,
		map[string]any{
			"id": p.ID,
		})
}

func (s *Server) handleGetProgram(ectx echo.Context) error {
	p, err := s.Store.Get(ectx.Param("id"))
	if err != nil {
		return s.storeError(ectx, err)
	}
	return ectx.JSON(http.StatusOK,
		map[string]any{
			"program": p,
			"size":    len(p.Code),
			"listing": asm.DisassembleString(p.Code),
		})
}

func (s *Server) handleListPrograms(ectx echo.Context) error {
	ps, err := s.Store.List()
	if err != nil {
		return s.storeError(ectx, err)
	}
	return ectx.JSON(http.StatusOK,
		map[string]any{
			"programs": ps,
		})
}

func (s *Server) storeError(ectx echo.Context, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	} else {
		s.logger.Error("store", zap.Error(err))
	}
	return ectx.JSON(status,
		map[string]any{
			"error": err.Error(),
		})
}
