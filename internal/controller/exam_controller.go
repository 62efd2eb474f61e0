package controller

import (
	"errors"
	"mockexam_backend/internal/exam"
	"mockexam_backend/internal/model"
	"mockexam_backend/internal/service"
	"mockexam_backend/internal/util"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ExamController struct {
	ExamService *service.ExamService
	Hub         *service.ExamHub
}

func NewExamController(examService *service.ExamService, hub *service.ExamHub) *ExamController {
	return &ExamController{ExamService: examService, Hub: hub}
}

// @Summary 开始模拟考试
// @Description 生成试卷并创建考试会话，每个用户同时只能有一场进行中的考试
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} util.Response
// @Failure 403 {object} util.Response "账号已停用"
// @Failure 409 {object} util.Response "已有进行中的考试"
// @Failure 503 {object} util.Response "题库不足，无法生成试卷"
// @Router /api/exam/attempts [post]
func (c *ExamController) StartExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.ExamService.Start(ctx.Request.Context(), user.UserID)
	if err != nil {
		var inProgress *exam.AlreadyInProgressError
		if errors.As(err, &inProgress) {
			util.Conflict(ctx, "an exam is already in progress", gin.H{"attemptId": inProgress.AttemptID})
			return
		}
		if errors.Is(err, exam.ErrGenerationFailed) {
			util.Error(ctx, http.StatusServiceUnavailable, "failed to generate question paper")
			return
		}
		if errors.Is(err, util.ErrUserNotFound) {
			util.Unauthorized(ctx)
			return
		}
		if errors.Is(err, util.ErrPermissionDenied) {
			util.Forbidden(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Created(ctx, view)
}

// @Summary 获取进行中的考试
// @Description 返回当前会话的完整快照（题目、作答、剩余时间），用于刷新后恢复
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response "没有进行中的考试"
// @Router /api/exam/attempts/active [get]
func (c *ExamController) GetActiveExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	view, err := c.ExamService.Active(user.UserID)
	if err != nil {
		c.writeSessionError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

type answerRequest struct {
	QuestionID uint    `json:"questionId" binding:"required"`
	Selected   *string `json:"selected"`
}

// @Summary 作答
// @Description 记录或清除某题的选项，selected 传 null 表示清除
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body answerRequest true "作答内容"
// @Success 200 {object} util.Response
// @Failure 409 {object} util.Response "考试不在进行中"
// @Router /api/exam/attempts/answers [put]
func (c *ExamController) SaveAnswer(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req answerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, "Invalid request")
		return
	}

	if req.Selected != nil {
		choice := *req.Selected
		if choice != "A" && choice != "B" && choice != "C" && choice != "D" {
			util.BadRequest(ctx, "selected must be one of A, B, C, D")
			return
		}
	}

	if err := c.ExamService.Answer(user.UserID, req.QuestionID, req.Selected); err != nil {
		c.writeSessionError(ctx, err)
		return
	}

	util.Success(ctx, nil)
}

type reviewRequest struct {
	QuestionID uint `json:"questionId" binding:"required"`
}

// @Summary 标记/取消标记复查
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body reviewRequest true "题目ID"
// @Success 200 {object} util.Response
// @Router /api/exam/attempts/review [put]
func (c *ExamController) ToggleReview(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req reviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, "Invalid request")
		return
	}

	if err := c.ExamService.ToggleReview(user.UserID, req.QuestionID); err != nil {
		c.writeSessionError(ctx, err)
		return
	}

	util.Success(ctx, nil)
}

type timeSpentRequest struct {
	QuestionID uint `json:"questionId" binding:"required"`
	Seconds    int  `json:"seconds" binding:"required"`
}

// @Summary 累计答题用时
// @Description 前端在切换题目时上报停留秒数
// @Tags 考试
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body timeSpentRequest true "用时"
// @Success 200 {object} util.Response
// @Router /api/exam/attempts/time [put]
func (c *ExamController) AccrueTime(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req timeSpentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, "Invalid request")
		return
	}

	if err := c.ExamService.AccrueTime(user.UserID, req.QuestionID, req.Seconds); err != nil {
		c.writeSessionError(ctx, err)
		return
	}

	util.Success(ctx, nil)
}

// @Summary 上报切屏违规
// @Description 前端检测到失焦/切屏时上报，达到上限会强制交卷
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/exam/attempts/violations [post]
func (c *ExamController) ReportViolation(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	outcome, err := c.ExamService.ReportViolation(user.UserID)
	if err != nil {
		c.writeSessionError(ctx, err)
		return
	}

	util.Success(ctx, outcome)
}

// @Summary 交卷
// @Description 冻结作答并评分，重复提交返回同一份结果
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Failure 500 {object} util.Response "落库失败，可重试"
// @Router /api/exam/attempts/submit [post]
func (c *ExamController) SubmitExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	result, err := c.ExamService.Submit(user.UserID)
	if err != nil {
		if errors.Is(err, exam.ErrSubmitFailed) {
			util.Error(ctx, http.StatusInternalServerError, "submission failed, please retry")
			return
		}
		c.writeSessionError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

// @Summary 放弃考试
// @Description 主动终止当前考试，不评分
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/exam/attempts/abandon [post]
func (c *ExamController) AbandonExam(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.ExamService.Abandon(user.UserID); err != nil {
		c.writeSessionError(ctx, err)
		return
	}

	util.Success(ctx, nil)
}

// @Summary 获取考试成绩
// @Description 返回总分、各科统计和章节强弱分析，仅已评分的考试可查
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param id path int true "考试ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/exam/attempts/{id}/result [get]
func (c *ExamController) GetResult(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	attemptID, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(ctx, "Invalid attempt ID")
		return
	}

	isAdmin := user.Role == model.Admin
	view, err := c.ExamService.Result(user.UserID, uint(attemptID), isAdmin)
	if err != nil {
		switch {
		case errors.Is(err, util.ErrAttemptNotFound):
			util.NotFound(ctx)
		case errors.Is(err, util.ErrPermissionDenied):
			util.Forbidden(ctx)
		case errors.Is(err, util.ErrAttemptNotScored):
			util.Error(ctx, http.StatusConflict, "attempt has not been scored")
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	util.Success(ctx, view)
}

// @Summary 历史考试列表
// @Tags 考试
// @Produce json
// @Security BearerAuth
// @Param limit query int false "数量上限" default(20)
// @Success 200 {object} util.Response
// @Router /api/exam/attempts [get]
func (c *ExamController) ListAttempts(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	attempts, err := c.ExamService.PastAttempts(user.UserID, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, attempts)
}

// @Summary 考试事件推送
// @Description WebSocket 连接，推送 PHASE/TICK/VIOLATION/RESULT 事件
// @Tags 考试
// @Security BearerAuth
// @Router /api/exam/ws [get]
func (c *ExamController) ServeWS(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	c.Hub.ServeWS(ctx, user.UserID)
}

func (c *ExamController) writeSessionError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrNoActiveSession):
		util.Error(ctx, http.StatusNotFound, "no exam in progress")
	case errors.Is(err, exam.ErrNotInProgress):
		util.Error(ctx, http.StatusConflict, "exam is not in progress")
	case errors.Is(err, exam.ErrSessionClosed):
		util.Error(ctx, http.StatusConflict, "exam session is closed")
	default:
		util.LogInternalError(ctx, err)
	}
}
