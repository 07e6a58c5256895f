package graph

// MediaKind определяет вид медиа потока
type MediaKind int

const (
	KindAudio MediaKind = iota // Сжатое аудио
	KindVideo                  // Сжатое видео
)

// Имена входных портов ветки
const (
	AudioPadName = "audio_sink"
	VideoPadName = "video_sink"
)

func (k MediaKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// PadName возвращает имя входного порта ветки для данного вида медиа
func (k MediaKind) PadName() string {
	switch k {
	case KindAudio:
		return AudioPadName
	case KindVideo:
		return VideoPadName
	default:
		return ""
	}
}

// Kinds возвращает виды медиа, которые обязана принимать каждая ветка
func Kinds() []MediaKind {
	return []MediaKind{KindAudio, KindVideo}
}
