package delivery

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/user/voxchat/internal/types"
	"github.com/user/voxchat/internal/upload"
)

// VoicePostType is the post type rendered as a voice player by the
// Mattermost voice message plugin.
const VoicePostType = "custom_voice_message"

// MattermostAPI is the subset of *model.Client4 used by the sink.
type MattermostAPI interface {
	UploadFile(ctx context.Context, data []byte, channelID string, filename string) (*model.FileUploadResponse, *model.Response, error)
	CreatePost(ctx context.Context, post *model.Post) (*model.Post, *model.Response, error)
}

// NewMattermostClient returns an authenticated REST client.
func NewMattermostClient(url, token string) *model.Client4 {
	client := model.NewAPIv4Client(url)
	client.SetToken(token)
	return client
}

// Mattermost mirrors dialog messages into a channel. Audio attachments become
// voice posts.
type Mattermost struct {
	api       MattermostAPI
	channelID string
	open      Opener
	now       func() time.Time
}

// NewMattermost creates a Mattermost sink posting into channelID.
func NewMattermost(api MattermostAPI, channelID string, open Opener) *Mattermost {
	return &Mattermost{api: api, channelID: channelID, open: open, now: time.Now}
}

func (m *Mattermost) Name() string { return "mattermost" }

func (m *Mattermost) Deliver(ctx context.Context, ev Event) error {
	post := &model.Post{
		ChannelId: m.channelID,
		Message:   formatText(ev),
		Props: model.StringInterface{
			"dialog_id": string(ev.Dialog.DialogID),
			"role":      string(ev.Message.Role),
		},
	}

	for _, att := range ev.Message.Attachments {
		fileID, err := m.uploadAttachment(ctx, att)
		if err != nil {
			return err
		}
		post.FileIds = append(post.FileIds, fileID)
		if att.IsAudio() {
			post.Type = VoicePostType
			post.Props["voice_mime_type"] = upload.BaseContentType(att.ContentType)
			post.Props["voice_duration"] = "0"
		}
	}
	if post.Message == "" && len(post.FileIds) == 0 {
		return nil
	}

	if _, _, err := m.api.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

func (m *Mattermost) uploadAttachment(ctx context.Context, att types.Attachment) (string, error) {
	if m.open == nil {
		return "", fmt.Errorf("no attachment opener configured")
	}
	rc, err := m.open(ctx, att)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}

	filename := att.Name
	if filename == "" {
		filename = "voice_" + m.now().Format("20060102_150405") + upload.ExtForContentType(att.ContentType)
	}
	resp, _, err := m.api.UploadFile(ctx, data, m.channelID, filename)
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if resp == nil || len(resp.FileInfos) == 0 {
		return "", fmt.Errorf("upload file: empty response")
	}
	return resp.FileInfos[0].Id, nil
}
