package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/evaluation"
	"github.com/zulandar/interviewdesk/internal/followup"
	"github.com/zulandar/interviewdesk/internal/questions"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, src Source) {
	api := router.Group("/api")
	api.GET("/session", handleSession(src))
	api.GET("/messages", handleMessages(src))
	api.GET("/questions", handleQuestions(src))
	api.GET("/followups", handleFollowUps(src))
	api.POST("/followups/read", handleMarkRead(src))

	router.GET("/events", handleSSE(src))
}

func handleSession(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot())
	}
}

// messageView is a log entry with its presentation tier.
type messageView struct {
	chatlog.Message
	Average *float64        `json:"average,omitempty"`
	Tier    evaluation.Tier `json:"tier,omitempty"`
}

func newMessageView(m chatlog.Message) messageView {
	v := messageView{Message: m}
	if m.Scores != nil {
		avg := m.Scores.Average()
		v.Average = &avg
		v.Tier = evaluation.TierOf(avg)
	}
	return v
}

func handleMessages(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs := src.Log().Messages()
		out := make([]messageView, len(msgs))
		for i, m := range msgs {
			out[i] = newMessageView(m)
		}
		c.JSON(http.StatusOK, gin.H{"messages": out})
	}
}

func handleQuestions(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		bank := src.Bank()
		if bank == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "question bank is not enabled"})
			return
		}
		topics := make(map[questions.Topic][]questions.Question, len(questions.Topics))
		for _, t := range questions.Topics {
			topics[t] = bank.Questions(t)
		}
		c.JSON(http.StatusOK, gin.H{
			"candidateId": bank.CandidateID(),
			"loading":     bank.Loading(),
			"error":       bank.Err(),
			"topics":      topics,
		})
	}
}

func handleFollowUps(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := src.Queue()
		if q == nil {
			c.JSON(http.StatusOK, gin.H{"items": []followup.DisplayItem{}, "unread": 0})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": q.Display(), "unread": q.Unread()})
	}
}

// handleMarkRead is called when the follow-up view is left.
func handleMarkRead(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := src.Queue()
		if q == nil {
			c.Status(http.StatusNoContent)
			return
		}
		q.MarkRead()
		c.JSON(http.StatusOK, gin.H{"unread": q.Unread()})
	}
}
