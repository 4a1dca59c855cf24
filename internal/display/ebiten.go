package display

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"golang.org/x/image/font/basicfont"
)

var _ Display = (*EbitenDisplay)(nil)

// Options configures an EbitenDisplay.
type Options struct {
	Title string
	// OnAction runs on its own goroutine so slow commands never stall
	// the render loop.
	OnAction func(Action)
	// Status returns the overlay lines drawn over the frame.
	Status func() []string
}

// keyBindings maps keys to viewer actions.
var keyBindings = map[ebiten.Key]Action{
	ebiten.KeySpace: ActionToggleStream,
	ebiten.KeyC:     ActionCapture,
	ebiten.KeyD:     ActionToggleConnect,
	ebiten.KeyL:     ActionSaveLog,
	ebiten.KeyS:     ActionSaveFrame,
}

// HelpLine describes the key bindings.
const HelpLine = "[space] stream  [c] capture  [d] connect  [s] save frame  [l] save log  [esc] quit"

// EbitenDisplay renders frames using Ebitengine.
type EbitenDisplay struct {
	src  FrameSource
	opts Options
	face text.Face

	ebitenImage *ebiten.Image
	shownSeq    uint64
	frameW      int
	frameH      int
}

// NewEbitenDisplay creates an Ebitengine-based display reading from src.
func NewEbitenDisplay(src FrameSource, opts Options) *EbitenDisplay {
	if opts.Title == "" {
		opts.Title = "Microscope"
	}
	return &EbitenDisplay{
		src:  src,
		opts: opts,
		face: text.NewGoXFace(basicfont.Face7x13),
	}
}

// Run starts the Ebitengine game loop. Must be called from the main goroutine.
func (d *EbitenDisplay) Run() error {
	ebiten.SetWindowSize(1280, 720)
	ebiten.SetWindowTitle(d.opts.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	return ebiten.RunGame(d)
}

// --- ebiten.Game interface ---

func (d *EbitenDisplay) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	for key, action := range keyBindings {
		if inpututil.IsKeyJustPressed(key) && d.opts.OnAction != nil {
			go d.opts.OnAction(action)
		}
	}
	return nil
}

func (d *EbitenDisplay) Draw(screen *ebiten.Image) {
	if img, seq := d.src.CurrentFrame(); img != nil {
		d.upload(img, seq)
	}

	if d.ebitenImage != nil {
		sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
		scale, offsetX, offsetY := aspectFitTransform(float64(sw), float64(sh), float64(d.frameW), float64(d.frameH))

		op := &ebiten.DrawImageOptions{}
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(offsetX, offsetY)
		screen.DrawImage(d.ebitenImage, op)
	}

	d.drawOverlay(screen)
}

func (d *EbitenDisplay) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

func (d *EbitenDisplay) upload(img *image.RGBA, seq uint64) {
	if seq == d.shownSeq && d.ebitenImage != nil {
		return
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if d.ebitenImage == nil || w != d.frameW || h != d.frameH {
		if d.ebitenImage != nil {
			d.ebitenImage.Deallocate()
		}
		d.ebitenImage = ebiten.NewImage(w, h)
		d.frameW, d.frameH = w, h
	}
	d.ebitenImage.WritePixels(img.Pix)
	d.shownSeq = seq
}

func (d *EbitenDisplay) drawOverlay(screen *ebiten.Image) {
	lines := []string{HelpLine}
	if d.opts.Status != nil {
		lines = append(d.opts.Status(), lines...)
	}

	op := &text.DrawOptions{}
	op.GeoM.Translate(8, 8)
	op.LayoutOptions.LineSpacing = 15
	op.ColorScale.ScaleWithColor(color.RGBA{R: 0x7f, G: 0xff, B: 0x7f, A: 0xff})
	text.Draw(screen, strings.Join(lines, "\n"), d.face, op)
}

// aspectFitTransform returns scale and offsets to fit frame into view with letterboxing.
func aspectFitTransform(viewW, viewH, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	if frameW <= 0 || frameH <= 0 {
		return 1, 0, 0
	}
	scale = math.Min(viewW/frameW, viewH/frameH)
	offsetX = (viewW - frameW*scale) / 2
	offsetY = (viewH - frameH*scale) / 2
	return
}
