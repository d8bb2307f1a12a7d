package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/caire/internal/core"
	"github.com/agenthands/caire/internal/core/document"
	"github.com/agenthands/caire/internal/core/model"
)

type TreeResponse struct {
	Tree       *model.Tree        `json:"tree"`
	Validation model.Report       `json:"validation"`
	Warnings   []document.Warning `json:"warnings"`
}

type GenerateTestsRequest struct {
	Count int `json:"count" binding:"gte=0,lte=200"`
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListTrees(c *gin.Context) {
	trees, err := s.Caire.Store.ListTrees(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trees": trees})
}

func (s *Server) CreateTree(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	tree, report, warnings, err := s.Caire.ImportTree(c.Request.Context(), data)
	if err != nil {
		if errors.Is(err, core.ErrTreeInvalid) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "validation": report})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, TreeResponse{Tree: tree, Validation: report, Warnings: nonNil(warnings)})
}

// GetTree returns the latest version, or the one named by ?version=.
func (s *Server) GetTree(c *gin.Context) {
	var (
		tree *model.Tree
		err  error
	)
	if version := c.Query("version"); version != "" {
		tree, err = s.Caire.Store.GetTreeVersion(c.Request.Context(), c.Param("id"), version)
	} else {
		tree, err = s.Caire.Store.GetTree(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (s *Server) UpdateTree(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	tree, warnings, err := document.Decode(data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if tree.ID != c.Param("id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("tree id '%s' does not match path id '%s'", tree.ID, c.Param("id"))})
		return
	}
	report, err := s.Caire.SaveTree(c.Request.Context(), tree)
	if err != nil {
		if errors.Is(err, core.ErrTreeInvalid) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "validation": report})
			return
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TreeResponse{Tree: tree, Validation: report, Warnings: nonNil(warnings)})
}

func (s *Server) DeleteTree(c *gin.Context) {
	if err := s.Caire.Store.DeleteTree(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ValidateTree(c *gin.Context) {
	tree, err := s.Caire.Store.GetTree(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Caire.Validate(tree))
}

// ValidateDocument validates a document without storing it.
func (s *Server) ValidateDocument(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	tree, warnings, err := document.Decode(data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"validation": s.Caire.Validate(tree),
		"warnings":   nonNil(warnings),
	})
}

func (s *Server) ListTestCases(c *gin.Context) {
	cases, err := s.Caire.Store.ListTestCases(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"test_cases": cases})
}

func (s *Server) AddTestCases(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	cases, err := document.DecodeTestCases(data, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.Caire.AddTestCases(c.Request.Context(), c.Param("id"), cases); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"test_cases": cases})
}

func (s *Server) GenerateTestCases(c *gin.Context) {
	var req GenerateTestsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	cases, err := s.Caire.GenerateTestCases(c.Request.Context(), c.Param("id"), req.Count)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"test_cases": cases})
}

// RunTests runs the stored cases and saves the suite.
func (s *Server) RunTests(c *gin.Context) {
	suite, err := s.Caire.RunStored(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}

// RunOne executes an ad-hoc case against the latest tree without storing it.
func (s *Server) RunOne(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	cases, err := document.TestCasesFrom([]any{raw}, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	tree, err := s.Caire.Store.GetTree(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	res, err := s.Caire.RunOne(tree, cases[0])
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RefineNode rewrites one node with the student model and stores the result
// as a new version.
func (s *Server) RefineNode(c *gin.Context) {
	var req core.RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	tree, report, err := s.Caire.RefineNode(c.Request.Context(), c.Param("id"), req)
	if errors.Is(err, core.ErrTreeInvalid) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "validation": report})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, TreeResponse{Tree: tree, Validation: report, Warnings: []document.Warning{}})
}

func (s *Server) Coverage(c *gin.Context) {
	report, err := s.Caire.Coverage(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) GetTestResults(c *gin.Context) {
	suite, err := s.Caire.Store.GetSuite(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}

// Compile starts a background compilation and returns its job.
func (s *Server) Compile(c *gin.Context) {
	var req core.CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if s.Caire.Generator == nil {
		s.writeError(c, core.ErrCompilerUnavailable)
		return
	}
	job := s.Caire.StartCompile(c.Request.Context(), req)
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) CompileStatus(c *gin.Context) {
	job, ok := s.Caire.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job '%s' not found", c.Param("id"))})
		return
	}
	c.JSON(http.StatusOK, job)
}

func nonNil(w []document.Warning) []document.Warning {
	if w == nil {
		return []document.Warning{}
	}
	return w
}
