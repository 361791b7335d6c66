package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slateboard/internal/core/board"
	"slateboard/internal/core/domain"
	"slateboard/internal/core/ports"
	"slateboard/internal/infrastructure/middleware"
	"slateboard/pkg/errors"
	"slateboard/pkg/validation"
)

// BoardHandler serves the REST side of the board API: snapshot reads for
// canvas loading, creator-only sharing administration, and per-identity
// visit history. Live editing happens over the signal channel, not here.
type BoardHandler struct {
	registry *board.Registry
	store    ports.BoardStore
	history  ports.HistoryStore
	identity ports.IdentityProvider
	logger   *zap.SugaredLogger
}

func NewBoardHandler(
	registry *board.Registry,
	store ports.BoardStore,
	history ports.HistoryStore,
	identity ports.IdentityProvider,
	logger *zap.SugaredLogger,
) *BoardHandler {
	return &BoardHandler{
		registry: registry,
		store:    store,
		history:  history,
		identity: identity,
		logger:   logger,
	}
}

func (h *BoardHandler) SetupRoutes(router *gin.Engine) {
	optional := middleware.OptionalIdentityMiddleware(h.identity)
	required := middleware.IdentityMiddleware(h.identity)

	router.GET("/preview/:boardId", optional, h.GetPreview)

	boards := router.Group("/boards")
	{
		boards.GET("/history", required, h.GetHistory)
		boards.GET("/:boardId/:slideId", optional, h.GetSlide)

		boards.PUT("/:boardId/:slideId/grants/:matcher", required, h.AddGrant)
		boards.DELETE("/:boardId/:slideId/grants/:matcher", required, h.RemoveGrant)
		boards.GET("/:boardId/sharing/permissions", required, h.GetPermissions)
		boards.POST("/:boardId/sharing/permissions", required, h.SetPermission)
	}
}

// GetPreview returns the first slide's snapshot, used for board cards in
// the history view. Boards whose wildcard role is none require a guest-or-
// better identity.
func (h *BoardHandler) GetPreview(c *gin.Context) {
	boardID := domain.BoardID(c.Param("boardId"))
	if !domain.ValidBoardID(boardID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformedBoardId"})
		return
	}

	manifest, err := h.store.LoadManifest(c.Request.Context(), boardID)
	if err != nil {
		h.respondLoadError(c, err)
		return
	}

	if manifest.Permissions["*"] == domain.RoleNone {
		if !h.viewPermitted(c, manifest.Permissions) {
			return
		}
	}

	// Prefer the live session's view of the slide order and flush the
	// first slide so the snapshot read sees the latest accepted mutation.
	slideIDs := manifest.SlideIDs
	if session, ok := h.registry.Get(boardID); ok {
		slideIDs = session.SlideIDs()
		if len(slideIDs) > 0 {
			if slide := session.Slide(slideIDs[0]); slide != nil {
				if err := slide.SyncToStorage(c.Request.Context()); err != nil {
					h.logger.Errorw("preview flush failed", "board_id", boardID, "error", err)
				}
			}
		}
	}
	if len(slideIDs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "notFound"})
		return
	}

	snap, err := h.store.LoadSnapshot(c.Request.Context(), boardID, slideIDs[0])
	if err != nil {
		h.respondLoadError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetSlide returns one slide's canonical snapshot stamped with the live
// change id. This is the refetch endpoint clients hit to recover from an
// ordering gap.
func (h *BoardHandler) GetSlide(c *gin.Context) {
	boardID := domain.BoardID(c.Param("boardId"))
	slideID := domain.SlideID(c.Param("slideId"))
	if !domain.ValidBoardID(boardID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformedBoardId"})
		return
	}

	manifest, err := h.store.LoadManifest(c.Request.Context(), boardID)
	if err != nil {
		h.respondLoadError(c, err)
		return
	}

	if role, ok := manifest.Permissions["*"]; !ok || role == domain.RoleNone {
		if !h.viewPermitted(c, manifest.Permissions) {
			return
		}
	}

	var live *board.Slide
	if session, ok := h.registry.Get(boardID); ok {
		if live = session.Slide(slideID); live != nil {
			if err := live.SyncToStorage(c.Request.Context()); err != nil {
				h.logger.Errorw("slide flush failed",
					"board_id", boardID, "slide_id", slideID, "error", err)
			}
		}
	}

	snap, err := h.store.LoadSnapshot(c.Request.Context(), boardID, slideID)
	if err != nil {
		h.respondLoadError(c, err)
		return
	}
	if live != nil {
		snap.ChangeID = live.ChangeID()
	}
	c.JSON(http.StatusOK, snap)
}

// AddGrant gives a token editor access to one slide. Creator only.
func (h *BoardHandler) AddGrant(c *gin.Context) {
	session, slide, ok := h.requireCreatorSlide(c)
	if !ok {
		return
	}
	matcher := c.Param("matcher")
	if err := validation.ValidateMatcher(matcher); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	slide.AddGrant(c.Request.Context(), matcher)
	h.logger.Infow("slide grant added",
		"board_id", session.ID(), "slide_id", slide.ID(), "matcher", matcher)
	c.JSON(http.StatusOK, "ok")
}

// RemoveGrant revokes a slide grant. Creator only.
func (h *BoardHandler) RemoveGrant(c *gin.Context) {
	session, slide, ok := h.requireCreatorSlide(c)
	if !ok {
		return
	}
	matcher := c.Param("matcher")

	slide.RemoveGrant(c.Request.Context(), matcher)
	h.logger.Infow("slide grant removed",
		"board_id", session.ID(), "slide_id", slide.ID(), "matcher", matcher)
	c.JSON(http.StatusOK, "ok")
}

// GetPermissions returns the board's permission table. Creator only.
func (h *BoardHandler) GetPermissions(c *gin.Context) {
	session, ok := h.requireCreator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": session.Permissions()})
}

// SetPermission upserts or removes one matcher of the permission table.
// A role of -1 removes the matcher. Creator only.
func (h *BoardHandler) SetPermission(c *gin.Context) {
	session, ok := h.requireCreator(c)
	if !ok {
		return
	}

	var req struct {
		Matcher string `json:"matcher" binding:"required"`
		NewRole int    `json:"newRole"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateMatcher(req.Matcher); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch {
	case req.NewRole == -1:
		session.RemovePermissionMatcher(c.Request.Context(), req.Matcher)
	case req.NewRole >= int(domain.RoleCreator) && req.NewRole <= int(domain.RoleNone):
		session.SetPermissionMatcher(c.Request.Context(), req.Matcher, domain.Role(req.NewRole))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalidRole"})
		return
	}

	h.logger.Infow("permission table updated",
		"board_id", session.ID(), "matcher", req.Matcher, "role", req.NewRole)
	c.JSON(http.StatusOK, "ok")
}

// GetHistory lists the boards the authenticated identity recently viewed,
// most recent first. History is only kept for email-backed identities.
func (h *BoardHandler) GetHistory(c *gin.Context) {
	identity := middleware.IdentityFrom(c)
	if !strings.Contains(identity, "@") {
		c.JSON(http.StatusForbidden, gin.H{"error": "identityTokenMustBeEmail"})
		return
	}

	entries, err := h.history.ListByIdentity(c.Request.Context(), identity)
	if err != nil {
		c.Error(errors.NewInternalError("list board history").WithCause(err))
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// viewPermitted checks the optionally authenticated caller against the
// board's permission table for guest-or-better access, writing the 403
// itself when denied.
func (h *BoardHandler) viewPermitted(c *gin.Context, permissions domain.PermissionTable) bool {
	identity := middleware.IdentityFrom(c)
	if !domain.IsPermitted(domain.EffectiveRole(identity, permissions), domain.RoleGuest, "", nil) {
		c.JSON(http.StatusForbidden, gin.H{"error": "accessDenied"})
		return false
	}
	return true
}

// requireCreator resolves the live session and checks the authenticated
// identity holds the creator role. Sharing administration targets live
// sessions only; an unopened board has nobody to administer it.
func (h *BoardHandler) requireCreator(c *gin.Context) (*board.Session, bool) {
	boardID := domain.BoardID(c.Param("boardId"))
	if !domain.ValidBoardID(boardID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformedBoardId"})
		return nil, false
	}
	session, ok := h.registry.Get(boardID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "notFound"})
		return nil, false
	}
	if !session.EffectiveRoleOf(middleware.IdentityFrom(c)).AtLeast(domain.RoleCreator) {
		c.JSON(http.StatusForbidden, gin.H{"error": "accessDenied"})
		return nil, false
	}
	return session, true
}

func (h *BoardHandler) requireCreatorSlide(c *gin.Context) (*board.Session, *board.Slide, bool) {
	session, ok := h.requireCreator(c)
	if !ok {
		return nil, nil, false
	}
	slide := session.Slide(domain.SlideID(c.Param("slideId")))
	if slide == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "notFound"})
		return nil, nil, false
	}
	return session, slide, true
}

// respondLoadError maps storage errors to boundary responses: missing
// records are 404s, anything else surfaces through the error middleware.
func (h *BoardHandler) respondLoadError(c *gin.Context, err error) {
	if err == domain.ErrBoardNotFound || err == domain.ErrSlideNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "notFound"})
		return
	}
	c.Error(errors.NewInternalError("load board data").WithCause(err))
}
