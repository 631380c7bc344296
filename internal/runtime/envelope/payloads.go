package envelope

import "errors"

// Event types of the platform vocabulary. The vocabulary is closed: a type
// without a registered payload variant cannot be published or decoded.
const (
	TypeUserRegistered  = "account.user.registered"
	TypeUserDeleted     = "account.user.deleted"
	TypeFollowCreated   = "social.follow.created"
	TypeFollowDeleted   = "social.follow.deleted"
	TypePostCreated     = "content.post.created"
	TypeCommentCreated  = "content.comment.created"
	TypeLikeCreated     = "content.like.created"
	TypeReportCreated   = "moderation.report.created"
	TypeAppealSubmitted = "moderation.appeal.submitted"
	TypeMediaUploaded   = "media.upload.completed"
)

func init() {
	Register(func() Payload { return &UserRegistered{} })
	Register(func() Payload { return &UserDeleted{} })
	Register(func() Payload { return &FollowCreated{} })
	Register(func() Payload { return &FollowDeleted{} })
	Register(func() Payload { return &PostCreated{} })
	Register(func() Payload { return &CommentCreated{} })
	Register(func() Payload { return &LikeCreated{} })
	Register(func() Payload { return &ReportCreated{} })
	Register(func() Payload { return &AppealSubmitted{} })
	Register(func() Payload { return &MediaUploaded{} })
}

// UserRegistered is emitted by the account service after a signup commits.
type UserRegistered struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (*UserRegistered) EventType() string { return TypeUserRegistered }

func (p *UserRegistered) Validate() error {
	if p.UserID == "" {
		return errors.New("userId is required")
	}
	if p.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// UserDeleted is emitted when an account is removed; subscribers tear down
// dependent state (posts, follows, media).
type UserDeleted struct {
	UserID string `json:"userId"`
}

func (*UserDeleted) EventType() string { return TypeUserDeleted }

func (p *UserDeleted) Validate() error {
	if p.UserID == "" {
		return errors.New("userId is required")
	}
	return nil
}

// FollowCreated records one user following another.
type FollowCreated struct {
	FollowerID  string `json:"followerId"`
	FollowingID string `json:"followingId"`
}

func (*FollowCreated) EventType() string { return TypeFollowCreated }

func (p *FollowCreated) Validate() error {
	if p.FollowerID == "" || p.FollowingID == "" {
		return errors.New("followerId and followingId are required")
	}
	if p.FollowerID == p.FollowingID {
		return errors.New("a user cannot follow themselves")
	}
	return nil
}

// FollowDeleted records an unfollow.
type FollowDeleted struct {
	FollowerID  string `json:"followerId"`
	FollowingID string `json:"followingId"`
}

func (*FollowDeleted) EventType() string { return TypeFollowDeleted }

func (p *FollowDeleted) Validate() error {
	if p.FollowerID == "" || p.FollowingID == "" {
		return errors.New("followerId and followingId are required")
	}
	return nil
}

// PostCreated announces a new post to feed, search, and notification
// subscribers.
type PostCreated struct {
	PostID   string `json:"postId"`
	AuthorID string `json:"authorId"`
	Visible  bool   `json:"visible"`
}

func (*PostCreated) EventType() string { return TypePostCreated }

func (p *PostCreated) Validate() error {
	if p.PostID == "" || p.AuthorID == "" {
		return errors.New("postId and authorId are required")
	}
	return nil
}

// CommentCreated announces a comment on a post.
type CommentCreated struct {
	CommentID string `json:"commentId"`
	PostID    string `json:"postId"`
	AuthorID  string `json:"authorId"`
}

func (*CommentCreated) EventType() string { return TypeCommentCreated }

func (p *CommentCreated) Validate() error {
	if p.CommentID == "" || p.PostID == "" || p.AuthorID == "" {
		return errors.New("commentId, postId and authorId are required")
	}
	return nil
}

// LikeCreated announces a like on a post or comment.
type LikeCreated struct {
	UserID   string `json:"userId"`
	TargetID string `json:"targetId"`
	// TargetKind is "post" or "comment".
	TargetKind string `json:"targetKind"`
}

func (*LikeCreated) EventType() string { return TypeLikeCreated }

func (p *LikeCreated) Validate() error {
	if p.UserID == "" || p.TargetID == "" {
		return errors.New("userId and targetId are required")
	}
	if p.TargetKind != "post" && p.TargetKind != "comment" {
		return errors.New(`targetKind must be "post" or "comment"`)
	}
	return nil
}

// ReportCreated is emitted when a user reports content for moderation.
type ReportCreated struct {
	ReportID   string `json:"reportId"`
	ReporterID string `json:"reporterId"`
	TargetID   string `json:"targetId"`
	Reason     string `json:"reason"`
}

func (*ReportCreated) EventType() string { return TypeReportCreated }

func (p *ReportCreated) Validate() error {
	if p.ReportID == "" || p.ReporterID == "" || p.TargetID == "" {
		return errors.New("reportId, reporterId and targetId are required")
	}
	return nil
}

// AppealSubmitted is emitted when a user appeals a moderation decision.
type AppealSubmitted struct {
	AppealID string `json:"appealId"`
	UserID   string `json:"userId"`
	ReportID string `json:"reportId"`
}

func (*AppealSubmitted) EventType() string { return TypeAppealSubmitted }

func (p *AppealSubmitted) Validate() error {
	if p.AppealID == "" || p.UserID == "" {
		return errors.New("appealId and userId are required")
	}
	return nil
}

// MediaUploaded is emitted once a media transform pipeline finishes and the
// asset is servable.
type MediaUploaded struct {
	MediaID  string `json:"mediaId"`
	OwnerID  string `json:"ownerId"`
	MimeType string `json:"mimeType"`
	Bytes    int64  `json:"bytes"`
}

func (*MediaUploaded) EventType() string { return TypeMediaUploaded }

func (p *MediaUploaded) Validate() error {
	if p.MediaID == "" || p.OwnerID == "" {
		return errors.New("mediaId and ownerId are required")
	}
	if p.Bytes < 0 {
		return errors.New("bytes cannot be negative")
	}
	return nil
}
