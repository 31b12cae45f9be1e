package models

// Label identifies one hippocampal subfield class in the network output.
// The value of a Label is both its output-channel index in the raw logits
// and the voxel value written to the final segmentation map.
type Label int

const (
	Background Label = iota
	DentateGyrus
	CA1
	CA2
	CA3
	Subiculum
)

// NumRawChannels is the number of logit channels every model in the
// ensemble must produce, one per Label.
const NumRawChannels = 6

// String returns the anatomical short name of the label.
func (l Label) String() string {
	switch l {
	case Background:
		return "background"
	case DentateGyrus:
		return "dentate gyrus"
	case CA1:
		return "ca1"
	case CA2:
		return "ca2"
	case CA3:
		return "ca3"
	case Subiculum:
		return "subiculum"
	}
	return "unknown"
}

// CAModes lists the recognized cornu ammonis grouping modes:
//   - "1/2/3" keeps CA1, CA2 and CA3 as separate classes
//   - "1/23" merges CA2 and CA3 into a single class
//   - "123" merges CA1, CA2 and CA3 into a single class
var CAModes = []string{"1/2/3", "1/23", "123"}

// ClassNames returns the output class names for a ca_mode, in channel
// order. The slice length is the remapped channel count for that mode.
func ClassNames(caMode string) []string {
	switch caMode {
	case "1/2/3":
		return []string{"background", "dentate gyrus", "ca1", "ca2", "ca3", "subiculum"}
	case "1/23":
		return []string{"background", "dentate gyrus", "ca1", "ca2+ca3", "subiculum"}
	case "123":
		return []string{"background", "dentate gyrus", "ca1+ca2+ca3", "subiculum"}
	}
	return nil
}
