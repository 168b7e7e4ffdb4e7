package models

// SlotID identifies one of the six composite upload positions
type SlotID string

const (
	SlotOptions16 SlotID = "combo_opt_1_6"
	SlotOptions25 SlotID = "combo_opt_2_5"
	SlotOptions38 SlotID = "combo_opt_3_8"
	SlotOptions47 SlotID = "combo_opt_4_7"
	SlotFlaps     SlotID = "combo_flaps"
	SlotDiamond   SlotID = "combo_diamond"
)

// Slot describes a fixed composite role and how it is presented
type Slot struct {
	ID    SlotID `json:"id"`
	Label string `json:"label"`
}

var slots = []Slot{
	{ID: SlotOptions16, Label: "Options 1 & 6 pair"},
	{ID: SlotOptions25, Label: "Options 2 & 5 pair"},
	{ID: SlotOptions38, Label: "Options 3 & 8 pair"},
	{ID: SlotOptions47, Label: "Options 4 & 7 pair"},
	{ID: SlotFlaps, Label: "All corner flaps"},
	{ID: SlotDiamond, Label: "Center diamond"},
}

// Slots returns the six composite slots in display order.
func Slots() []Slot {
	out := make([]Slot, len(slots))
	copy(out, slots)
	return out
}

// LookupSlot returns the slot for id, or false if id is not one of the six.
func LookupSlot(id string) (Slot, bool) {
	for _, s := range slots {
		if string(s.ID) == id {
			return s, true
		}
	}
	return Slot{}, false
}

// UploadName is the logical filename a composite is sent under
func (id SlotID) UploadName() string {
	return string(id) + ".png"
}

// FileItem represents an attached image as shown to the user
type FileItem struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Preview     string `json:"preview"` // data URI
}

// Segment is one named sub-image returned by the processing service
type Segment struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// SlotState pairs a slot with its currently attached file, if any
type SlotState struct {
	Slot
	File *FileItem `json:"file,omitempty"`
}
