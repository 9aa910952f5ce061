package supplier_test

import (
	"regexp"
	"testing"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/internal/supplier"
	"github.com/linguo5/AingDesk/pkg/models"
)

func newTestRegistry(t *testing.T) *supplier.Registry {
	t.Helper()
	s, err := objstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return supplier.NewRegistry(s)
}

func TestAddListRemoveRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	before, err := r.ListSuppliers()
	if err != nil {
		t.Fatalf("ListSuppliers() error = %v", err)
	}

	added, err := r.AddSupplier(models.Supplier{Name: "deepseek", BaseURL: "https://api.deepseek.com/v1", APIKey: "sk-x"})
	if err != nil {
		t.Fatalf("AddSupplier() error = %v", err)
	}
	if !added.Enabled {
		t.Error("AddSupplier() should enable the supplier")
	}

	after, _ := r.ListSuppliers()
	if len(after) != len(before)+1 {
		t.Fatalf("ListSuppliers() after add = %d, want %d", len(after), len(before)+1)
	}

	if err := r.RemoveSupplier("deepseek"); err != nil {
		t.Fatalf("RemoveSupplier() error = %v", err)
	}
	final, _ := r.ListSuppliers()
	if len(final) != len(before) {
		t.Errorf("ListSuppliers() after remove = %d, want %d", len(final), len(before))
	}
}

func TestAddSupplierGeneratesRandomName(t *testing.T) {
	r := newTestRegistry(t)

	added, err := r.AddSupplier(models.Supplier{BaseURL: "https://example.com/v1"})
	if err != nil {
		t.Fatalf("AddSupplier() error = %v", err)
	}
	if !regexp.MustCompile(`^[a-zA-Z0-9]{10}$`).MatchString(added.Name) {
		t.Errorf("generated name = %q, want 10 alphanumeric chars", added.Name)
	}
}

func TestAddSupplierDuplicate(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.AddSupplier(models.Supplier{Name: "dup"}); err != nil {
		t.Fatal(err)
	}
	_, err := r.AddSupplier(models.Supplier{Name: "dup"})
	if errs.KindOf(err) != errs.Conflict {
		t.Errorf("duplicate AddSupplier() kind = %v, want conflict", errs.KindOf(err))
	}
}

func TestRemoveLocalForbidden(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.EnsureLocal("http://127.0.0.1:11434"); err != nil {
		t.Fatal(err)
	}
	err := r.RemoveSupplier(models.LocalSupplierName)
	if errs.KindOf(err) != errs.Conflict {
		t.Errorf("RemoveSupplier(local) kind = %v, want conflict", errs.KindOf(err))
	}
}

func TestModelCatalog(t *testing.T) {
	r := newTestRegistry(t)
	r.AddSupplier(models.Supplier{Name: "s1"})

	if err := r.AddModel("s1", models.Model{Name: "m1", Parameters: "7b"}); err != nil {
		t.Fatalf("AddModel() error = %v", err)
	}
	if err := r.AddModel("s1", models.Model{Name: "m1", Parameters: "7b"}); errs.KindOf(err) != errs.Conflict {
		t.Errorf("duplicate AddModel() kind = %v, want conflict", errs.KindOf(err))
	}

	if err := r.SetModelTitle("s1", "m1", "7b", "My Model"); err != nil {
		t.Fatalf("SetModelTitle() error = %v", err)
	}
	if err := r.SetModelStatus("s1", "m1", "7b", false); err != nil {
		t.Fatalf("SetModelStatus() error = %v", err)
	}

	list, _ := r.ListModels("s1")
	if len(list) != 1 || list[0].Title != "My Model" || list[0].Enabled {
		t.Errorf("ListModels() = %+v, want one disabled model titled My Model", list)
	}

	if err := r.RemoveModel("s1", "m1", "7b"); err != nil {
		t.Fatalf("RemoveModel() error = %v", err)
	}
	list, _ = r.ListModels("s1")
	if len(list) != 0 {
		t.Errorf("ListModels() after remove = %d models, want 0", len(list))
	}
}

func TestResolveChatModel(t *testing.T) {
	r := newTestRegistry(t)
	r.AddSupplier(models.Supplier{Name: "s1"})
	r.AddModel("s1", models.Model{Name: "m1"})

	if _, err := r.ResolveChatModel("s1", "m1"); err != nil {
		t.Fatalf("ResolveChatModel() error = %v", err)
	}
	if _, err := r.ResolveChatModel("s1", "unknown"); errs.KindOf(err) != errs.NotFound {
		t.Errorf("unknown model kind = %v, want not_found", errs.KindOf(err))
	}
	if _, err := r.ResolveChatModel("ghost", "m1"); errs.KindOf(err) != errs.NotFound {
		t.Errorf("unknown supplier kind = %v, want not_found", errs.KindOf(err))
	}

	r.SetModelStatus("s1", "m1", "", false)
	if _, err := r.ResolveChatModel("s1", "m1"); errs.KindOf(err) != errs.Conflict {
		t.Errorf("disabled model kind = %v, want conflict", errs.KindOf(err))
	}

	r.SetModelStatus("s1", "m1", "", true)
	r.SetSupplierStatus("s1", false)
	if _, err := r.ResolveChatModel("s1", "m1"); errs.KindOf(err) != errs.Conflict {
		t.Errorf("disabled supplier kind = %v, want conflict", errs.KindOf(err))
	}
}

func TestListEmbeddingModels(t *testing.T) {
	r := newTestRegistry(t)
	r.AddSupplier(models.Supplier{Name: "s1"})
	r.AddModel("s1", models.Model{Name: "chat-model", Capabilities: []string{models.CapChat}})
	r.AddModel("s1", models.Model{Name: "embed-model", Capabilities: []string{models.CapEmbedding}})

	refs, err := r.ListEmbeddingModels()
	if err != nil {
		t.Fatalf("ListEmbeddingModels() error = %v", err)
	}
	if len(refs) != 1 || refs[0].Model != "embed-model" {
		t.Errorf("ListEmbeddingModels() = %+v, want [embed-model]", refs)
	}
}

func TestSyncLocalModels(t *testing.T) {
	r := newTestRegistry(t)
	r.EnsureLocal("http://127.0.0.1:11434")

	r.SyncLocalModels([]models.Model{{Name: "qwen3", Parameters: "8b"}})
	r.SetModelStatus(models.LocalSupplierName, "qwen3", "8b", false)

	// A re-sync keeps the user's enable flag for surviving models.
	r.SyncLocalModels([]models.Model{
		{Name: "qwen3", Parameters: "8b"},
		{Name: "llama3.2", Parameters: "3b"},
	})

	list, _ := r.ListModels(models.LocalSupplierName)
	if len(list) != 2 {
		t.Fatalf("ListModels(local) = %d models, want 2", len(list))
	}
	for _, m := range list {
		if m.Name == "qwen3" && m.Enabled {
			t.Error("re-sync lost the disabled flag on qwen3")
		}
		if m.Name == "llama3.2" && !m.Enabled {
			t.Error("new installed model should default enabled")
		}
	}
}
