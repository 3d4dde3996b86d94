package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bindery/internal/registry"
	"bindery/internal/testsupport"
)

const bookHTML = `<p>مقدمة المؤلف والناشر</p>
<p align="center"><b>باب الفعل الماضي</b></p>
<p>الفعل الماضي ما دل على حدث مضى</p>
<p align="center"><b>باب الفعل المضارع</b></p>
<p>المضارع ما دل على حدث يقبل الحال والاستقبال</p>
<p align="center"><b>فصل في فعل الأمر</b></p>
<p>فعل الأمر يدل على طلب وقوع الفعل</p>`

func TestCLIRunLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteBookFixture(t, env.cfg, "shamela_0001", "0001.htm", bookHTML)

	out, _, err := runCLI(t, []string{"scan", "shamela_0001"}, env.configPath)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	requireContains(t, out, "Scanned shamela_0001")

	out, _, err = runCLI(t, []string{"propose", "shamela_0001"}, env.configPath)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	requireContains(t, out, "review is required")

	out, _, err = runCLI(t, []string{"approve", "shamela_0001", "--bulk", "approve", "--reviewer", "tester"}, env.configPath)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	requireContains(t, out, "plan ready for apply")

	out, _, err = runCLI(t, []string{"apply", "shamela_0001"}, env.configPath)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	requireContains(t, out, "Applied shamela_0001")

	bookMD := filepath.Join(env.cfg.Paths.CorpusRoot, "books", "shamela_0001", "book.md")
	if _, err := os.Stat(bookMD); err != nil {
		t.Fatalf("canonical book missing: %v", err)
	}

	out, _, err = runCLI(t, []string{"report", "shamela_0001"}, env.configPath)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	requireContains(t, out, "QA report: shamela_0001")
	requireContains(t, out, "status: pass")

	out, _, err = runCLI(t, []string{"archive", "shamela_0001"}, env.configPath)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	requireContains(t, out, "Archived run outputs")
	entries, err := os.ReadDir(filepath.Join(env.cfg.Paths.RunsRoot, "_ARCHIVE"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected archived runs, err=%v", err)
	}
}

func TestCLIApproveBlocksWithoutDecisions(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteBookFixture(t, env.cfg, "shamela_0002", "0001.htm", bookHTML)

	if _, _, err := runCLI(t, []string{"scan", "shamela_0002"}, env.configPath); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if _, _, err := runCLI(t, []string{"propose", "shamela_0002"}, env.configPath); err != nil {
		t.Fatalf("propose: %v", err)
	}

	// No decisions at all: the artifact does not exist yet.
	_, _, err := runCLI(t, []string{"approve", "shamela_0002"}, env.configPath)
	if err == nil {
		t.Fatal("expected approve to fail without decisions")
	}

	// Apply must refuse while the plan is unapproved.
	_, _, err = runCLI(t, []string{"apply", "shamela_0002"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not approved") {
		t.Fatalf("apply error = %v, want not approved", err)
	}
}

func TestCLITopicsSyncAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	definitions := []registry.TopicInput{
		{DisplayTitle: "النحو", Aliases: []string{"قواعد النحو"}, Status: "active"},
		{DisplayTitle: "الصرف", Status: "active"},
	}
	data, err := json.Marshal(definitions)
	if err != nil {
		t.Fatal(err)
	}
	defsPath := filepath.Join(env.baseDir, "topics.json")
	if err := os.WriteFile(defsPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"topics", "sync", defsPath}, env.configPath)
	if err != nil {
		t.Fatalf("topics sync: %v", err)
	}
	requireContains(t, out, "Synced 2 topics")
	requireContains(t, out, "T000001")

	out, _, err = runCLI(t, []string{"topics", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("topics list: %v", err)
	}
	requireContains(t, out, "النحو")
	requireContains(t, out, "T000002")

	if _, err := os.Stat(filepath.Join(env.cfg.Paths.CorpusRoot, "topics.json")); err != nil {
		t.Fatalf("topics.json export missing: %v", err)
	}
}
