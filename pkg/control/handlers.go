package control

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arzzra/live_publish/pkg/publish"
)

// RecordRequest тело POST /api/v1/record
type RecordRequest struct {
	Location string `json:"location" binding:"required"`
}

// StreamRequest тело POST /api/v1/stream
type StreamRequest struct {
	Host      string `json:"host" binding:"required"`
	AudioPort int    `json:"audio_port" binding:"required,min=1,max=65535"`
	VideoPort int    `json:"video_port" binding:"required,min=1,max=65535"`
}

// Response ответ на команду
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// BranchView ветка в ответе GET /api/v1/branches
type BranchView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	State string `json:"state"`
}

// BranchesResponse ответ GET /api/v1/branches
type BranchesResponse struct {
	Recording bool         `json:"recording"`
	Streaming bool         `json:"streaming"`
	Branches  []BranchView `json:"branches"`
}

func (s *Server) listBranches(c *gin.Context) {
	infos := s.publisher.Branches()
	resp := BranchesResponse{
		Recording: s.publisher.Recording(),
		Streaming: s.publisher.Streaming(),
		Branches:  make([]BranchView, 0, len(infos)),
	}
	for _, b := range infos {
		resp.Branches = append(resp.Branches, BranchView{
			ID:    b.ID,
			Name:  b.Name,
			Role:  string(b.Role),
			State: b.State.String(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) removeBranch(c *gin.Context) {
	id := c.Param("id")
	if !s.publisher.RemoveBranch(id) {
		c.JSON(http.StatusNotFound, Response{Message: "ветка не найдена или уже отключается"})
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true})
}

func (s *Server) startRecord(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: err.Error()})
		return
	}
	if !s.publisher.StartRecord(req.Location) {
		c.JSON(http.StatusConflict, Response{Message: "запись не начата"})
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true})
}

func (s *Server) stopRecord(c *gin.Context) {
	if !s.publisher.StopRecord() {
		c.JSON(http.StatusNotFound, Response{Message: "запись не идет"})
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true})
}

func (s *Server) startStream(c *gin.Context) {
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: err.Error()})
		return
	}
	if !s.publisher.StartStream(req.Host, req.AudioPort, req.VideoPort) {
		c.JSON(http.StatusConflict, Response{Message: "отправка не начата"})
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true})
}

func (s *Server) stopStream(c *gin.Context) {
	if !s.publisher.StopStream() {
		c.JSON(http.StatusNotFound, Response{Message: "отправка не идет"})
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true})
}

func (s *Server) streamSDP(c *gin.Context) {
	desc, err := s.publisher.SessionDescription()
	if errors.Is(err, publish.ErrNoStream) {
		c.JSON(http.StatusNotFound, Response{Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}
	raw, err := desc.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/sdp", raw)
}
