package notification

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/fmerge/fmerge/pkg/config"
	"github.com/fmerge/fmerge/pkg/httputils"
)

const (
	maxEmbedsPerMessage = 10
	maxCharactersPerMsg = 6000

	// hardcoded limit of fields to avoid hammering the api
	maxTotalFields = 250
)

type DiscordMessage struct {
	Content interface{}    `json:"content"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

type DiscordEmbed struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Color       int                  `json:"color"`
	Fields      []DiscordEmbedsField `json:"fields,omitempty"`
	Footer      DiscordEmbedsFooter  `json:"footer,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

type DiscordEmbedsFooter struct {
	Text string `json:"text"`
}

type DiscordEmbedsField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedColors int

const (
	LIGHT_BLUE EmbedColors = 0x58b9ff
	RED        EmbedColors = 0xed4245
	GREEN      EmbedColors = 0x57f287
	GRAY       EmbedColors = 0x99aab5
)

type discordSender struct {
	log    *logrus.Entry
	config config.NotificationsConfig

	httpClient *http.Client
}

func NewDiscordSender(log *logrus.Entry, config config.NotificationsConfig) Sender {
	l := log.WithField("sender", "discord")
	return &discordSender{
		log:        l,
		config:     config,
		httpClient: httputils.NewRetryableHttpClient(30*time.Second, ratelimit.New(1, ratelimit.WithoutSlack), l),
	}
}

func (d *discordSender) Name() string {
	return "discord"
}

func (d *discordSender) CanSend() bool {
	return d.config.Service.Discord != ""
}

func (d *discordSender) Send(title string, description string, runTime time.Duration, fields []Field, dryRun bool) error {
	if dryRun {
		title = title + " (Dry Run)"
	}

	totalFields := len(fields)
	if totalFields == 0 && d.config.SkipEmptyRun {
		return nil
	}

	rt := runTime.Truncate(time.Millisecond).String()
	timestamp := time.Now()

	var embeds []DiscordEmbed

	// send a single summary embed when there are no fields, more fields
	// than allowed, or detailed mode is off
	if totalFields == 0 || totalFields > maxTotalFields || !d.config.Detailed {
		embeds = append(embeds, DiscordEmbed{
			Title:       title,
			Description: description,
			Color:       int(LIGHT_BLUE),
			Footer:      DiscordEmbedsFooter{Text: d.buildFooter(0, totalFields, rt)},
			Timestamp:   timestamp,
		})
	} else {
		for i, field := range fields {
			embed := DiscordEmbed{
				Title:     title,
				Color:     int(LIGHT_BLUE),
				Fields:    d.parseFieldValueToInlineFields(field.Value),
				Footer:    DiscordEmbedsFooter{Text: d.buildFooter(i+1, totalFields, rt)},
				Timestamp: timestamp,
			}

			if field.Name != "" {
				embed.Description = fmt.Sprintf("**%s**", field.Name)
			}

			embeds = append(embeds, embed)
		}

		embeds = append(embeds, DiscordEmbed{
			Title:       fmt.Sprintf("%s - Summary", title),
			Description: description,
			Color:       int(LIGHT_BLUE),
			Footer:      DiscordEmbedsFooter{Text: d.buildFooter(0, 0, rt)},
			Timestamp:   timestamp,
		})
	}

	batches, err := d.batchEmbeds(embeds)
	if err != nil {
		return err
	}

	for i, batch := range batches {
		jsonData, err := json.Marshal(DiscordMessage{Content: nil, Embeds: batch})
		if err != nil {
			return errors.Wrap(err, "marshal message chunk")
		}

		if sendErr := d.sendRequest(jsonData); sendErr != nil {
			return errors.Wrap(sendErr, "send message chunk to discord")
		}

		d.log.Debugf("Sent Discord message %d/%d (%d embeds, %d chars)", i+1, len(batches), len(batch), len(jsonData))
	}

	d.log.Debugf("All %d Discord messages sent successfully", len(batches))
	return nil
}

// batchEmbeds splits embeds into message batches honoring the per-message
// embed count and character limits.
func (d *discordSender) batchEmbeds(embeds []DiscordEmbed) ([][]DiscordEmbed, error) {
	var (
		batches      [][]DiscordEmbed
		currentBatch []DiscordEmbed
		currentChars int
	)

	flush := func() {
		if len(currentBatch) == 0 {
			return
		}
		batches = append(batches, currentBatch)
		currentBatch = nil
		currentChars = 0
	}

	for _, e := range embeds {
		jsonData, err := json.Marshal(e)
		if err != nil {
			return nil, errors.Wrap(err, "calculate embed size for batching")
		}

		if len(currentBatch) >= maxEmbedsPerMessage || currentChars+len(jsonData) > maxCharactersPerMsg {
			flush()
		}

		currentBatch = append(currentBatch, e)
		currentChars += len(jsonData)
	}
	flush()

	return batches, nil
}

func (d *discordSender) sendRequest(jsonData []byte) error {
	req, err := http.NewRequest(http.MethodPost, d.config.Service.Discord, bytes.NewBuffer(jsonData))
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := d.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "client request error")
	}
	defer res.Body.Close()

	d.log.Tracef("Discord response status: %d", res.StatusCode)

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		body, readErr := io.ReadAll(bufio.NewReader(res.Body))
		if readErr != nil {
			return errors.Wrap(readErr, "read response body")
		}

		return errors.Errorf("unexpected status: %v body: %v", res.StatusCode, string(body))
	}

	d.log.Debug("Notification successfully sent to discord")
	return nil
}

// BuildField constructs a Field based on the provided action and build options.
func (d *discordSender) BuildField(action Action, opt BuildOptions) Field {
	switch action {
	case ActionMerge, ActionConsolidate:
		return d.buildMergeField(opt)
	case ActionBatch:
		return d.buildSegmentField(opt)
	}

	return Field{}
}

func (d *discordSender) buildMergeField(opt BuildOptions) Field {
	var inlineFields []DiscordEmbedsField

	inlineFields = append(inlineFields, DiscordEmbedsField{
		Name:   "Relinked",
		Value:  fmt.Sprintf("%d", opt.Relinked),
		Inline: true,
	})

	if opt.Failed > 0 {
		inlineFields = append(inlineFields, DiscordEmbedsField{
			Name:   "Failed",
			Value:  fmt.Sprintf("%d", opt.Failed),
			Inline: true,
		})
	}

	inlineFields = append(inlineFields, DiscordEmbedsField{
		Name:   "Reclaimed",
		Value:  humanize.IBytes(uint64(opt.Reclaimed)),
		Inline: true,
	})

	jsonData, _ := json.Marshal(inlineFields)

	return Field{
		Name:  fmt.Sprintf("%s (%s)", opt.Base, humanize.IBytes(uint64(opt.Size))),
		Value: string(jsonData),
	}
}

func (d *discordSender) buildSegmentField(opt BuildOptions) Field {
	var inlineFields []DiscordEmbedsField

	inlineFields = append(inlineFields, DiscordEmbedsField{
		Name:   "Files",
		Value:  fmt.Sprintf("%d", opt.Files),
		Inline: true,
	})

	inlineFields = append(inlineFields, DiscordEmbedsField{
		Name:   "Merged",
		Value:  fmt.Sprintf("%d", opt.Merged),
		Inline: true,
	})

	inlineFields = append(inlineFields, DiscordEmbedsField{
		Name:   "Reclaimed",
		Value:  humanize.IBytes(uint64(opt.Reclaimed)),
		Inline: true,
	})

	jsonData, _ := json.Marshal(inlineFields)

	return Field{
		Name:  opt.Directory,
		Value: string(jsonData),
	}
}

func (d *discordSender) parseFieldValueToInlineFields(value string) []DiscordEmbedsField {
	var fields []DiscordEmbedsField

	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		d.log.WithError(err).Error("Failed to parse field value as JSON")
		return []DiscordEmbedsField{}
	}

	return fields
}

func (d *discordSender) buildFooter(progress int, totalFields int, runTime string) string {
	if totalFields == 0 {
		return fmt.Sprintf("Started: %s ago", runTime)
	}

	return fmt.Sprintf("Progress: %d/%d | Started: %s ago", progress, totalFields, runTime)
}
