package preferences

import (
	"encoding/json"
	"slices"
)

// Storage keys.
const (
	ConversionKey = "ffmpegWeb-LastSettings"
	MergeKey      = "ffmpegWeb-LastMergeSettings"
	MetadataKey   = "ffmpegWeb-LastMetadataEditOptions"
	InputKey      = "ffmpegWeb-LastInputStorage"
	SettingsKey   = "ffmpegWeb-Settings"
)

// ConversionOptions are the last used conversion settings.
type ConversionOptions struct {
	IsAudioSelected          bool         `json:"isAudioSelected"`
	IsVideoSelected          bool         `json:"isVideoSelected"`
	VideoTypeSelected        string       `json:"videoTypeSelected"`
	AudioTypeSelected        string       `json:"audioTypeSelected"`
	ImageTypeSelected        string       `json:"imageTypeSelected"`
	OutputContainerChanged   bool         `json:"outputContainerChanged"`
	OutputContainerRequested string       `json:"outputContainerRequested"`
	VideoOptions             VideoOptions `json:"videoOptions"`
	AudioOptions             AudioOptions `json:"audioOptions"`
	ImageOptions             ImageOptions `json:"imageOptions"`
	ForceCopyMetadata        bool         `json:"forceCopyMetadata"`
	ConversionOption         int          `json:"conversionOption"`
	FolderSelect             bool         `json:"folderSelect"`
	TrimOptions              TrimOptions  `json:"trimOptions"`
	AudioToVideo             AudioToVideo `json:"audioToVideo"`
}

type VideoOptions struct {
	UseSlider    bool         `json:"useSlider"`
	Value        string       `json:"value"`
	MaxRate      string       `json:"maxRate"`
	FPS          FPSOptions   `json:"fps"`
	AspectRatio  AspectRatio  `json:"aspectRatio"`
	PixelSpace   PixelSpace   `json:"pixelSpace"`
	ExtraFilters VideoFilters `json:"extraFilters"`
}

type FPSOptions struct {
	KeepFPS   bool    `json:"keepFps"`
	InputFPS  float64 `json:"inputFps"`
	OutputFPS float64 `json:"outputFps"`
}

type AspectRatio struct {
	IsBeingEdited bool `json:"isBeingEdited"`
	Width         int  `json:"width"`
	Height        int  `json:"height"`
	Rotation      int  `json:"rotation"`
}

type PixelSpace struct {
	Change bool   `json:"change"`
	With   string `json:"with"`
}

type VideoFilters struct {
	VideoCut    VideoCut `json:"videoCut"`
	Deinterlace bool     `json:"deinterlace"`
	VideoFilter string   `json:"videoFilter"`
	Custom      string   `json:"custom"`
}

type VideoCut struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	PositionX string `json:"positionX"`
	PositionY string `json:"positionY"`
}

type AudioOptions struct {
	UseSlider    bool         `json:"useSlider"`
	Value        string       `json:"value"`
	Channels     int          `json:"channels"`
	KeepAlbumArt bool         `json:"keepAlbumArt"`
	ExtraFilters AudioFilters `json:"extraFilters"`
}

type AudioFilters struct {
	AudioDB      float64      `json:"audioDB"`
	NoiseRemoval NoiseRemoval `json:"noiseRemoval"`
	Custom       string       `json:"custom"`
}

type NoiseRemoval struct {
	Noise float64 `json:"noise"`
	Floor string  `json:"floor"`
}

type ImageOptions struct {
	UseSlider bool   `json:"useSlider"`
	Value     string `json:"value"`
}

type TrimOptions struct {
	ID                 int                `json:"id"`
	SingleTimestamp    [2]string          `json:"singleTimestamp"`
	MultipleTimestamps MultipleTimestamps `json:"multipleTimestamps"`
}

type MultipleTimestamps struct {
	Text            string `json:"text"`
	Divider         string `json:"divider"`
	TimestampAtLeft bool   `json:"timestampAtLeft"`
	SmartMetadata   bool   `json:"smartMetadata"`
	StartFrom       int    `json:"startFrom"`
	CopySources     bool   `json:"copySources"`
}

// AudioToVideo controls rendering a still video for an audio track.
type AudioToVideo struct {
	MS           int                 `json:"ms"`
	Extension    string              `json:"extension"`
	FPS          float64             `json:"fps"`
	VideoBitrate string              `json:"videoBitrate"`
	AudioBitrate string              `json:"audioBitrate"`
	Font         string              `json:"font"`
	Content      AudioToVideoContent `json:"content"`
	Scale        float64             `json:"scale"`
	SaveTemp     bool                `json:"saveTemp"`
	Disable011   bool                `json:"disable011"`
	UseDuration  bool                `json:"useDuration"`
	// UseInterleaveDelta sets max_interleave_delta to 0.
	UseInterleaveDelta bool `json:"useInterleaveDelta"`
	RestorePTS         bool `json:"restorePTS"`
	// UseSingleThreadedIfAvailable prefers the single-threaded engine build.
	UseSingleThreadedIfAvailable bool `json:"useSingleThreadedIfAvailable"`
}

type AudioToVideoContent struct {
	ShowAlbumArt      bool `json:"showAlbumArt"`
	ShowQuickInfo     bool `json:"showQuickInfo"`
	ShowMetadataRecap bool `json:"showMetadataRecap"`
	ShowImportedImage bool `json:"showImportedImage"`
}

// DefaultConversionOptions returns the conversion defaults.
func DefaultConversionOptions() ConversionOptions {
	return ConversionOptions{
		IsAudioSelected:          true,
		IsVideoSelected:          true,
		VideoTypeSelected:        "libx264",
		AudioTypeSelected:        "aac",
		ImageTypeSelected:        "png",
		OutputContainerRequested: "mp4",
		VideoOptions: VideoOptions{
			UseSlider:   true,
			Value:       "22",
			MaxRate:     "1000k",
			FPS:         FPSOptions{KeepFPS: true, InputFPS: 30, OutputFPS: 30},
			AspectRatio: AspectRatio{Width: -1, Height: -1, Rotation: -1},
			ExtraFilters: VideoFilters{
				VideoCut:    VideoCut{Width: -1, Height: -1, PositionX: "center-w", PositionY: "center-h"},
				VideoFilter: "none",
			},
		},
		AudioOptions: AudioOptions{
			UseSlider: true,
			Value:     "6",
			Channels:  -1,
		},
		ImageOptions:     ImageOptions{UseSlider: true, Value: "80"},
		ConversionOption: 4,
		TrimOptions: TrimOptions{
			MultipleTimestamps: MultipleTimestamps{
				TimestampAtLeft: true,
				StartFrom:       1,
				CopySources:     true,
			},
		},
		AudioToVideo: AudioToVideo{
			MS:           2000,
			Extension:    "mkv",
			FPS:          1,
			VideoBitrate: "1100k",
			AudioBitrate: "192k",
			Font:         "Work Sans",
			Content: AudioToVideoContent{
				ShowAlbumArt:      true,
				ShowQuickInfo:     true,
				ShowMetadataRecap: true,
			},
			Scale:       2,
			UseDuration: true,
		},
	}
}

// Clone has no reference fields to copy.
func (o ConversionOptions) Clone() ConversionOptions {
	return o
}

// MergeOptions are the last used merge settings.
type MergeOptions struct {
	FileName     string `json:"fileName"`
	KeepAlbumArt bool   `json:"keepAlbumArt"`
}

func DefaultMergeOptions() MergeOptions {
	return MergeOptions{}
}

func (o MergeOptions) Clone() MergeOptions {
	return o
}

// MetadataEntry is one tag added by the user.
type MetadataEntry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	ID     string `json:"id"`
	Custom bool   `json:"custom,omitempty"`
}

// MetadataOptions are the last used metadata edit settings.
type MetadataOptions struct {
	KeepCurrentMetadata bool            `json:"keepCurrentMetadata"`
	KeepMP4Thumbnail    bool            `json:"keepMP4Thumbnail"`
	MetadataAdded       []MetadataEntry `json:"metadataAdded"`
	// CustomAlbumArt lives only in memory.
	CustomAlbumArt []byte `json:"-"`
	DeleteVideo    bool   `json:"deleteVideo"`
}

func DefaultMetadataOptions() MetadataOptions {
	return MetadataOptions{
		KeepCurrentMetadata: true,
		KeepMP4Thumbnail:    true,
		MetadataAdded:       []MetadataEntry{},
	}
}

func (o MetadataOptions) Clone() MetadataOptions {
	o.MetadataAdded = slices.Clone(o.MetadataAdded)
	o.CustomAlbumArt = slices.Clone(o.CustomAlbumArt)
	return o
}

// InputItem is one entry of the remembered input list.
type InputItem struct {
	Display string `json:"display"`
	ID      string `json:"id"`
}

// InputOptions is the remembered input list.
type InputOptions struct {
	Val []InputItem `json:"val"`
}

func DefaultInputOptions() InputOptions {
	return InputOptions{Val: []InputItem{}}
}

func (o InputOptions) Clone() InputOptions {
	o.Val = slices.Clone(o.Val)
	return o
}

// decodeInputs keeps only stored items whose display and id are strings.
func decodeInputs(data []byte, into *InputOptions) error {
	var stored struct {
		Val []map[string]any `json:"val"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Val == nil {
		return nil
	}

	items := make([]InputItem, 0, len(stored.Val))
	for _, raw := range stored.Val {
		display, ok := raw["display"].(string)
		if !ok {
			continue
		}
		id, ok := raw["id"].(string)
		if !ok {
			continue
		}
		items = append(items, InputItem{Display: display, ID: id})
	}
	into.Val = items
	return nil
}

// FileSaverSettings are the two settings the file saver reads.
type FileSaverSettings struct {
	KeepInMemory    bool `json:"keepInMemory"`
	RevokeObjectURL bool `json:"revokeObjectURL"`
}

// Settings are the application settings.
type Settings struct {
	FileSaver FileSaverSettings `json:"fileSaver"`
}

func DefaultSettings() Settings {
	return Settings{
		FileSaver: FileSaverSettings{RevokeObjectURL: true},
	}
}

func (s Settings) Clone() Settings {
	return s
}
