package model

import (
	"github.com/lumeno/docmodel/persistence"
)

// WorkspaceLayout persists a named arrangement of display panels.
type WorkspaceLayout struct {
	object *persistence.Object
}

func NewWorkspaceLayout() *WorkspaceLayout {
	w := &WorkspaceLayout{}
	w.object = persistence.NewObject(w)
	w.object.DefineType("workspace")
	w.object.DefineProperty("name", nil)
	w.object.DefineProperty("layout", nil)
	w.object.DefineProperty("workspace_id", nil)
	return w
}

func (w *WorkspaceLayout) Persistent() *persistence.Object { return w.object }

func (w *WorkspaceLayout) Name() string {
	s, _ := w.object.PropertyValue("name").(string)
	return s
}

func (w *WorkspaceLayout) SetName(name string) { w.object.SetPropertyValue("name", name) }

func (w *WorkspaceLayout) Layout() map[string]any {
	d, _ := w.object.PropertyValue("layout").(map[string]any)
	return d
}

func (w *WorkspaceLayout) SetLayout(layout map[string]any) {
	w.object.SetPropertyValue("layout", layout)
}

func (w *WorkspaceLayout) WorkspaceID() string {
	s, _ := w.object.PropertyValue("workspace_id").(string)
	return s
}

func (w *WorkspaceLayout) SetWorkspaceID(id string) {
	w.object.SetPropertyValue("workspace_id", id)
}

func WorkspaceLayoutFactory(typeName string) persistence.Entity {
	if typeName == "workspace" {
		return NewWorkspaceLayout()
	}
	return nil
}
