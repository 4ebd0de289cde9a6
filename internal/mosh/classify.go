package mosh

import "github.com/JaylenLuc/datamoshing/internal/media"

// Classify maps a decoder picture code to the semantic type the strategies
// branch on. Codes other than I, P and B map to PictureUnspecified.
func Classify(coded media.CodedPictureType) media.PictureType {
	switch coded {
	case media.CodedI:
		return media.PictureIntra
	case media.CodedP:
		return media.PicturePredicted
	case media.CodedB:
		return media.PictureBidirectional
	default:
		return media.PictureUnspecified
	}
}
