package main

import "time"

// TaskStatus represents the current lifecycle stage of a conversion task.
type TaskStatus string

const (
	StatusInitializing TaskStatus = "initializing"
	StatusConnecting   TaskStatus = "connecting"
	StatusStarting     TaskStatus = "starting"
	StatusDownloading  TaskStatus = "downloading"
	StatusProcessing   TaskStatus = "processing"
	StatusEmbedding    TaskStatus = "embedding"
	StatusCompleted    TaskStatus = "completed"
	StatusError        TaskStatus = "error"
	StatusCancelled    TaskStatus = "cancelled"

	// StatusUnknown is returned by the progress endpoint for unrecognized
	// task ids. It is never stored in the registry.
	StatusUnknown TaskStatus = "unknown"
)

// Terminal reports whether no further updates may be applied to a task
// in this status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// TaskState is one registry entry per submitted conversion task.
// LastActivity is internal bookkeeping and never leaves the server.
type TaskState struct {
	Status          TaskStatus `json:"status"`
	Percent         float64    `json:"percent"`
	Message         string     `json:"message"`
	Speed           float64    `json:"speed,omitempty"`
	SpeedStr        string     `json:"speed_str,omitempty"`
	ETA             int        `json:"eta,omitempty"`
	DownloadedBytes int64      `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64      `json:"total_bytes,omitempty"`
	Title           string     `json:"title,omitempty"`
	Filename        string     `json:"filename,omitempty"`
	FileSize        int64      `json:"file_size,omitempty"`
	HasThumbnail    bool       `json:"has_thumbnail,omitempty"`
	Format          string     `json:"format,omitempty"`
	AudioFormat     string     `json:"audio_format,omitempty"`
	Quality         string     `json:"quality,omitempty"`
	Extension       string     `json:"extension,omitempty"`

	LastActivity time.Time `json:"-"`
}

// ConvertRequest is the body of POST /api/convert.
type ConvertRequest struct {
	URL         string `json:"url"`
	Format      string `json:"format"`      // "audio" or "video"
	Quality     string `json:"quality"`     // video tier, e.g. "best", "720p"
	AudioFormat string `json:"audioFormat"` // audio catalog id, e.g. "mp3"
}

// AudioFormatSpec describes one entry of the audio output catalog.
type AudioFormatSpec struct {
	Extension   string `json:"extension"`
	Codec       string `json:"-"`
	Bitrate     string `json:"-"`
	SampleRate  string `json:"-"`
	MIME        string `json:"-"`
	Name        string `json:"name"`
	Quality     string `json:"quality"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Recommended bool   `json:"recommended"`
}

var audioFormats = map[string]AudioFormatSpec{
	"mp3": {
		Extension:   "mp3",
		Codec:       "libmp3lame",
		Bitrate:     "320k",
		SampleRate:  "44100",
		MIME:        "audio/mpeg",
		Name:        "MP3",
		Quality:     "320kbps",
		Description: "Universal compatibility - works on all devices",
		Icon:        "🎵",
		Recommended: true,
	},
	"aac": {
		Extension:   "m4a",
		Codec:       "aac",
		Bitrate:     "256k",
		SampleRate:  "44100",
		MIME:        "audio/mp4",
		Name:        "AAC (M4A)",
		Quality:     "256kbps",
		Description: "Best for Apple devices - excellent quality, smaller size",
		Icon:        "🍎",
		Recommended: true,
	},
	"opus": {
		Extension:   "opus",
		Codec:       "libopus",
		Bitrate:     "192k",
		SampleRate:  "48000",
		MIME:        "audio/opus",
		Name:        "OPUS",
		Quality:     "192kbps",
		Description: "Modern codec - best quality/size ratio",
		Icon:        "⚡",
		Recommended: false,
	},
	"ogg": {
		Extension:   "ogg",
		Codec:       "libvorbis",
		Bitrate:     "192k",
		SampleRate:  "44100",
		MIME:        "audio/ogg",
		Name:        "OGG Vorbis",
		Quality:     "192kbps",
		Description: "Open source - great for Android & desktop",
		Icon:        "🤖",
		Recommended: false,
	},
}

// videoQualityFormats maps a quality tier to the yt-dlp format expression
// used when downloading the source for that tier.
var videoQualityFormats = map[string]string{
	"best":  "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
	"1080p": "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[height<=1080][ext=mp4]/best",
	"720p":  "bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[height<=720][ext=mp4]/best",
	"480p":  "bestvideo[height<=480][ext=mp4]+bestaudio[ext=m4a]/best[height<=480][ext=mp4]/best",
	"360p":  "bestvideo[height<=360][ext=mp4]+bestaudio[ext=m4a]/best[height<=360][ext=mp4]/best",
	"144p":  "bestvideo[height<=144][ext=mp4]+bestaudio[ext=m4a]/best[height<=144][ext=mp4]/best",
}

// VideoEncodeSetting holds the ffmpeg tuning for one resolution tier.
// Empty fields are omitted from the command line.
type VideoEncodeSetting struct {
	Scale   string
	CRF     string
	MaxRate string
	BufSize string
}

var videoEncodeSettings = map[string]VideoEncodeSetting{
	"1080p": {Scale: "-2:1080", CRF: "20", MaxRate: "5000k", BufSize: "10000k"},
	"720p":  {Scale: "-2:720", CRF: "22", MaxRate: "2500k", BufSize: "5000k"},
	"480p":  {Scale: "-2:480", CRF: "24", MaxRate: "1500k", BufSize: "3000k"},
	"360p":  {Scale: "-2:360", CRF: "26", MaxRate: "800k", BufSize: "1600k"},
	"144p":  {Scale: "-2:144", CRF: "28", MaxRate: "400k", BufSize: "800k"},
	"best":  {CRF: "20"},
}

// MediaDescription is the video-info response, cached by normalized URL hash.
type MediaDescription struct {
	Success            bool     `json:"success"`
	Title              string   `json:"title"`
	Duration           int      `json:"duration"`
	DurationFormatted  string   `json:"duration_formatted"`
	Thumbnail          string   `json:"thumbnail"`
	Uploader           string   `json:"uploader"`
	Platform           string   `json:"platform"`
	AvailableQualities []string `json:"available_qualities"`
}

// TrackMetadata is embedded into finished audio files.
type TrackMetadata struct {
	Title  string
	Artist string
	Year   string
	Genre  string
}
