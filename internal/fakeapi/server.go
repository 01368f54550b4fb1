// Package fakeapi is an in-memory implementation of the matching service's HTTP
// surface. It backs tests and the rmc-fake development server.
package fakeapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/resumatch/internal/convert"
	"github.com/and161185/resumatch/internal/crypto"
)

const localDateTime = "2006-01-02T15:04:05"

type user struct {
	id        int64
	name      string
	email     string
	password  crypto.Credential
	role      string
	createdAt time.Time
}

type analysis struct {
	ownerID   int64
	result    convert.Analysis
	createdAt time.Time
}

// Server holds accounts and analyses in memory.
type Server struct {
	signKey   []byte
	accessTTL time.Duration
	log       *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	users     map[string]*user
	analyses  map[int64]*analysis
	nextUser  int64
	nextID    int64
	nextToken int64
	minToken  int64
	calls     map[string]int
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option { return func(s *Server) { s.log = log } }

// WithAccessTTL sets the lifetime of issued tokens.
func WithAccessTTL(d time.Duration) Option { return func(s *Server) { s.accessTTL = d } }

// New constructs an empty Server signing tokens with signKey.
func New(signKey []byte, opts ...Option) *Server {
	s := &Server{
		signKey:   signKey,
		accessTTL: time.Hour,
		log:       zap.NewNop(),
		now:       time.Now,
		users:     map[string]*user{},
		analyses:  map[int64]*analysis{},
		calls:     map[string]int{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Calls reports how many requests hit a route, keyed "METHOD /path/pattern".
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// RevokeAll invalidates every token issued so far.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minToken = s.nextToken + 1
}

// Seed stores a finished analysis for the user with the given email and returns its id.
func (s *Server) Seed(email string, a convert.Analysis, createdAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return 0, fmt.Errorf("no user %s", email)
	}
	s.nextID++
	a.AnalysisID = s.nextID
	s.analyses[a.AnalysisID] = &analysis{ownerID: u.id, result: a, createdAt: createdAt}
	return a.AnalysisID, nil
}

// Handler returns the gin engine serving everything under /api.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(s.logging(), gin.Recovery(), s.count())

	api := r.Group("/api")
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)

	authed := api.Group("", s.authenticate())
	authed.GET("/profile", s.profile)
	authed.POST("/analyze", s.analyze)
	authed.GET("/analyze/history", s.history)
	authed.GET("/analyze/:id", s.get)
	authed.DELETE("/analyze/:id", s.remove)
	authed.GET("/analyze/:id/report", s.report)
	return r
}

func (s *Server) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("request_id", c.GetHeader("X-Request-ID")),
		)
	}
}

func (s *Server) count() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.Request.Method + " " + c.FullPath()
		s.mu.Lock()
		s.calls[route]++
		s.mu.Unlock()
		c.Next()
	}
}

func fail(c *gin.Context, status int, title, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"timestamp": time.Now().UTC().Format(localDateTime),
		"status":    status,
		"error":     title,
		"message":   msg,
	})
}

// --- auth ---

func (s *Server) issueAccessToken(userID int64) (string, error) {
	s.mu.Lock()
	s.nextToken++
	seq := s.nextToken
	s.mu.Unlock()

	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        strconv.FormatInt(seq, 10),
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

func (s *Server) authResponse(u *user) (convert.AuthResponse, error) {
	tok, err := s.issueAccessToken(u.id)
	if err != nil {
		return convert.AuthResponse{}, err
	}
	return convert.AuthResponse{Token: tok, Type: "Bearer", ID: u.id, Name: u.name, Email: u.email, Role: u.role}, nil
}

func (s *Server) register(c *gin.Context) {
	var in convert.RegisterRequest
	if err := c.ShouldBindJSON(&in); err != nil || in.Name == "" || in.Email == "" || len(in.Password) < 6 {
		fail(c, http.StatusBadRequest, "Validation Failed", "Invalid input")
		return
	}
	cred, err := crypto.NewCredential(in.Password)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
		return
	}
	key := strings.ToLower(in.Email)
	s.mu.Lock()
	if _, exists := s.users[key]; exists {
		s.mu.Unlock()
		fail(c, http.StatusBadRequest, "Bad Request", "Email already registered")
		return
	}
	s.nextUser++
	u := &user{id: s.nextUser, name: in.Name, email: in.Email, password: cred, role: "USER", createdAt: s.now()}
	s.users[key] = u
	s.mu.Unlock()

	out, err := s.authResponse(u)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) login(c *gin.Context) {
	var in convert.LoginRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "Validation Failed", "Invalid input")
		return
	}
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(in.Email)]
	s.mu.Unlock()
	if !ok || !u.password.Verify(in.Password) {
		fail(c, http.StatusUnauthorized, "Unauthorized", "Invalid email or password")
		return
	}
	out, err := s.authResponse(u)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
		return
	}
	c.JSON(http.StatusOK, out)
}

const userKey = "fakeapi.user"

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			fail(c, http.StatusUnauthorized, "Unauthorized", "Full authentication is required")
			return
		}
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return s.signKey, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(s.now),
		)
		if err != nil {
			fail(c, http.StatusUnauthorized, "Unauthorized", "Invalid or expired token")
			return
		}
		id, _ := strconv.ParseInt(claims.Subject, 10, 64)
		seq, _ := strconv.ParseInt(claims.ID, 10, 64)

		s.mu.Lock()
		revoked := seq < s.minToken
		var found *user
		for _, u := range s.users {
			if u.id == id {
				found = u
				break
			}
		}
		s.mu.Unlock()
		if revoked || found == nil {
			fail(c, http.StatusUnauthorized, "Unauthorized", "Invalid or expired token")
			return
		}
		c.Set(userKey, found)
		c.Next()
	}
}

func current(c *gin.Context) *user {
	u, _ := c.Get(userKey)
	return u.(*user)
}

func (s *Server) profile(c *gin.Context) {
	u := current(c)
	c.JSON(http.StatusOK, convert.Profile{
		ID: u.id, Name: u.name, Email: u.email, Role: u.role,
		CreatedAt: u.createdAt.UTC().Format(localDateTime),
	})
}

// --- analyses ---

var allowedExt = map[string]bool{".pdf": true, ".docx": true, ".txt": true}

func (s *Server) analyze(c *gin.Context) {
	u := current(c)
	job := strings.TrimSpace(c.PostForm("jobDescription"))
	if job == "" {
		fail(c, http.StatusBadRequest, "Bad Request", "Job description is required")
		return
	}
	fh, err := c.FormFile("resume")
	if err != nil {
		fail(c, http.StatusBadRequest, "Bad Request", "Resume file is required")
		return
	}
	if !allowedExt[strings.ToLower(filepath.Ext(fh.Filename))] {
		fail(c, http.StatusBadRequest, "Invalid File", "Only PDF, DOCX and TXT files are supported")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid File", "Could not read resume")
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid File", "Could not read resume")
		return
	}

	res := match(job, string(data))
	s.mu.Lock()
	s.nextID++
	res.AnalysisID = s.nextID
	s.analyses[res.AnalysisID] = &analysis{ownerID: u.id, result: res, createdAt: s.now()}
	s.mu.Unlock()
	c.JSON(http.StatusOK, res)
}

func (s *Server) history(c *gin.Context) {
	u := current(c)
	page, err1 := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, err2 := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err1 != nil || err2 != nil || page < 0 || size <= 0 {
		fail(c, http.StatusBadRequest, "Bad Request", "Invalid paging parameters")
		return
	}

	s.mu.Lock()
	items := make([]*analysis, 0)
	for _, a := range s.analyses {
		if a.ownerID == u.id {
			items = append(items, a)
		}
	}
	s.mu.Unlock()
	sort.Slice(items, func(i, j int) bool {
		if items[i].createdAt.Equal(items[j].createdAt) {
			return items[i].result.AnalysisID > items[j].result.AnalysisID
		}
		return items[i].createdAt.After(items[j].createdAt)
	})

	out := []convert.HistoryItem{}
	for i := page * size; i < len(items) && i < (page+1)*size; i++ {
		a := items[i]
		out = append(out, convert.HistoryItem{
			ID:              a.result.AnalysisID,
			MatchPercentage: a.result.MatchPercentage,
			ResumeScore:     a.result.ResumeScore,
			CreatedAt:       a.createdAt.UTC().Format(localDateTime),
		})
	}
	c.JSON(http.StatusOK, out)
}

var errNotFound = errors.New("analysis not found")

func (s *Server) owned(c *gin.Context) (*analysis, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, errNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[id]
	if !ok || a.ownerID != current(c).id {
		return nil, errNotFound
	}
	return a, nil
}

func (s *Server) get(c *gin.Context) {
	a, err := s.owned(c)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, a.result)
}

func (s *Server) remove(c *gin.Context) {
	a, err := s.owned(c)
	if err != nil {
		fail(c, http.StatusNotFound, "Not Found", "Analysis not found with id: "+c.Param("id"))
		return
	}
	s.mu.Lock()
	delete(s.analyses, a.result.AnalysisID)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) report(c *gin.Context) {
	a, err := s.owned(c)
	if err != nil {
		fail(c, http.StatusNotFound, "Not Found", "Analysis not found with id: "+c.Param("id"))
		return
	}
	r := a.result
	lines := []string{
		fmt.Sprintf("Resume analysis report #%d", r.AnalysisID),
		fmt.Sprintf("Prepared for %s", current(c).name),
		fmt.Sprintf("Match: %.1f%%  Resume score: %.1f/10", r.MatchPercentage, r.ResumeScore),
		"Matched: " + strings.Join(r.MatchedSkills, ", "),
		"Missing: " + strings.Join(r.MissingSkills, ", "),
	}
	lines = append(lines, r.Suggestions...)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="resume-analysis-report-%d.pdf"`, r.AnalysisID))
	c.Data(http.StatusOK, "application/pdf", renderPDF(lines))
}
