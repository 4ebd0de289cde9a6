package libav

import (
	"github.com/asticode/go-astiav"

	"github.com/JaylenLuc/datamoshing/internal/media"
)

// codedType maps the decoder's picture type to the pipeline's coded type.
func codedType(t astiav.PictureType) media.CodedPictureType {
	switch t {
	case astiav.PictureTypeI:
		return media.CodedI
	case astiav.PictureTypeP:
		return media.CodedP
	case astiav.PictureTypeB:
		return media.CodedB
	case astiav.PictureTypeS:
		return media.CodedS
	case astiav.PictureTypeSi:
		return media.CodedSI
	case astiav.PictureTypeSp:
		return media.CodedSP
	case astiav.PictureTypeBi:
		return media.CodedBI
	default:
		return media.CodedNone
	}
}

// pictureTypeHint is the type requested from the encoder for a forwarded
// frame. The encoder may still override it, e.g. for the first picture.
func pictureTypeHint(t media.PictureType) astiav.PictureType {
	switch t {
	case media.PictureIntra:
		return astiav.PictureTypeI
	case media.PicturePredicted:
		return astiav.PictureTypeP
	case media.PictureBidirectional:
		return astiav.PictureTypeB
	default:
		return astiav.PictureTypeNone
	}
}
