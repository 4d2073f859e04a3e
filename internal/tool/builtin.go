package tool

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// Builtins returns the catalog of built-in direct tools, all sandboxed to
// projects below workspaceRoot.
func Builtins(workspaceRoot string) []Implementation {
	return []Implementation{
		&ReadTextFileTool{Root: workspaceRoot},
		&CreateNewFileTool{Root: workspaceRoot},
		&FindFilesByGlobTool{Root: workspaceRoot},
	}
}

// resolveProjectPath resolves a project-relative path below root and
// rejects traversal outside the project directory.
func resolveProjectPath(root, projectName, rel string) (string, error) {
	if projectName == "" {
		return "", fmt.Errorf("projectName is missing")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace root: %w", err)
	}
	projectDir := filepath.Join(absRoot, projectName)
	if !strings.HasPrefix(projectDir+string(filepath.Separator), absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("project directory is outside base directory, access denied")
	}
	target := filepath.Join(projectDir, filepath.FromSlash(rel))
	if target != projectDir && !strings.HasPrefix(target, projectDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}
	return target, nil
}

func failedResult(err error) []Content {
	return []Content{{"status": "failed", "error": err.Error()}}
}

// ReadTextFileTool reads text content from a file in a project.
type ReadTextFileTool struct {
	Root string
}

// Descriptor returns the tool descriptor.
func (t *ReadTextFileTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "get_file_text_by_path",
		Title:       "Read File Text by Path",
		Description: "Reads text content from a file in the specified project if access conditions are met.",
		InputSchema: InputSchema{
			Type:          "object",
			PropertyNames: []string{"projectName", "pathInProject", "maxLinesCount"},
			Properties: map[string]Property{
				"projectName":   {Type: "string", Description: "Name of the project"},
				"pathInProject": {Type: "string", Description: "Path of the file relative to the project directory"},
				"maxLinesCount": {Type: "integer", Description: "Optional maximum number of lines to read from the file"},
			},
			Required: []string{"projectName", "pathInProject"},
		},
	}
}

// Call reads the requested file.
func (t *ReadTextFileTool) Call(_ context.Context, params map[string]interface{}) []Content {
	args := Arguments(params)
	projectName, _ := args["projectName"].(string)
	pathInProject, _ := args["pathInProject"].(string)
	maxLines := intArg(args, "maxLinesCount", 0)

	target, err := resolveProjectPath(t.Root, projectName, pathInProject)
	if err != nil {
		return failedResult(err)
	}

	f, err := os.Open(target)
	if err != nil {
		return failedResult(fmt.Errorf("failed to open file %s: %w", pathInProject, err))
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		if maxLines > 0 && lines >= maxLines {
			break
		}
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
		lines++
	}
	if err := scanner.Err(); err != nil {
		return failedResult(fmt.Errorf("failed to read file %s: %w", pathInProject, err))
	}

	return []Content{{
		"status":    "success",
		"text":      sb.String(),
		"lineCount": lines,
	}}
}

// CreateNewFileTool creates a new text file in a project.
type CreateNewFileTool struct {
	Root string
}

// Descriptor returns the tool descriptor.
func (t *CreateNewFileTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "create_new_file",
		Title:       "Create New File",
		Description: "Creates a new text file in the specified project, parent directories are created as needed.",
		InputSchema: InputSchema{
			Type:          "object",
			PropertyNames: []string{"projectName", "pathInProject", "text", "overwrite"},
			Properties: map[string]Property{
				"projectName":   {Type: "string", Description: "Name of the project"},
				"pathInProject": {Type: "string", Description: "Path of the new file relative to the project directory"},
				"text":          {Type: "string", Description: "Content of the new file"},
				"overwrite":     {Type: "boolean", Description: "Optional flag to allow overwriting an existing file"},
			},
			Required: []string{"projectName", "pathInProject", "text"},
		},
	}
}

// Call writes the file.
func (t *CreateNewFileTool) Call(_ context.Context, params map[string]interface{}) []Content {
	args := Arguments(params)
	projectName, _ := args["projectName"].(string)
	pathInProject, _ := args["pathInProject"].(string)
	text, _ := args["text"].(string)
	overwrite, _ := args["overwrite"].(bool)

	target, err := resolveProjectPath(t.Root, projectName, pathInProject)
	if err != nil {
		return failedResult(err)
	}

	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return failedResult(fmt.Errorf("file already exists and overwrite is not allowed: %s", pathInProject))
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return failedResult(fmt.Errorf("failed to create parent directories: %w", err))
	}
	if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
		return failedResult(fmt.Errorf("failed to write file %s: %w", pathInProject, err))
	}

	log.Printf("File written in project %s: %s", projectName, pathInProject)
	return []Content{{
		"status":  "success",
		"message": fmt.Sprintf("File written in project %s: %s", projectName, pathInProject),
	}}
}

// FindFilesByGlobTool lists project files matching a glob pattern.
type FindFilesByGlobTool struct {
	Root string
}

// Descriptor returns the tool descriptor.
func (t *FindFilesByGlobTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "find_files_by_glob",
		Title:       "Find Files by Glob",
		Description: "Finds files in the specified project matching a glob pattern such as **/*.go.",
		InputSchema: InputSchema{
			Type:          "object",
			PropertyNames: []string{"projectName", "globPattern", "fileCountLimit", "subDirectoryRelativePath"},
			Properties: map[string]Property{
				"projectName":              {Type: "string", Description: "Name of the project"},
				"globPattern":              {Type: "string", Description: "Glob pattern matched against paths relative to the project directory"},
				"fileCountLimit":           {Type: "integer", Description: "Optional maximum number of files to return"},
				"subDirectoryRelativePath": {Type: "string", Description: "Optional subdirectory to restrict the search to"},
			},
			Required: []string{"projectName", "globPattern"},
		},
	}
}

// Call walks the project directory and collects matching files.
func (t *FindFilesByGlobTool) Call(_ context.Context, params map[string]interface{}) []Content {
	args := Arguments(params)
	projectName, _ := args["projectName"].(string)
	pattern, _ := args["globPattern"].(string)
	limit := intArg(args, "fileCountLimit", 1000)
	subDir, _ := args["subDirectoryRelativePath"].(string)

	searchRoot, err := resolveProjectPath(t.Root, projectName, subDir)
	if err != nil {
		return failedResult(err)
	}
	info, err := os.Stat(searchRoot)
	if err != nil || !info.IsDir() {
		return failedResult(fmt.Errorf("search directory does not exist: %s", subDir))
	}

	matcher, err := glob.Compile(pattern, '/')
	if err != nil {
		return failedResult(fmt.Errorf("invalid glob pattern %q: %w", pattern, err))
	}

	if limit <= 0 {
		return []Content{{
			"status":  "success",
			"files":   []string{},
			"message": "No files returned due to zero or negative limit",
		}}
	}

	files := []string{}
	err = filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(searchRoot, path)
		if relErr != nil {
			return nil
		}
		if matcher.Match(filepath.ToSlash(rel)) {
			files = append(files, filepath.ToSlash(rel))
			if len(files) >= limit {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return failedResult(fmt.Errorf("failed to walk project directory: %w", err))
	}

	return []Content{{
		"status":    "success",
		"files":     files,
		"fileCount": len(files),
		"message":   fmt.Sprintf("Found %d file(s) matching pattern", len(files)),
	}}
}

// intArg reads an integer argument that may arrive as a JSON number.
func intArg(args map[string]interface{}, key string, defaultVal int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultVal
}
