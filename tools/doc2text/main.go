package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aihub/support-agent/internal/knowledge"
)

// 将PDF/Word/Excel/CSV/文本文件解析为纯文本，便于检查摄取前的解析效果
func main() {
	var (
		input  = flag.String("input", "", "输入文件路径（必需）")
		output = flag.String("output", "", "输出文本文件路径（可选，默认打印到stdout）")
	)
	flag.Parse()

	if *input == "" {
		fmt.Fprintf(os.Stderr, "错误: 必须指定输入文件路径 (-input)\n")
		flag.Usage()
		os.Exit(1)
	}

	file, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 无法打开输入文件: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	parser := knowledge.NewFileParserManager()
	filename := filepath.Base(*input)
	if !parser.Supports(filename) {
		fmt.Fprintf(os.Stderr, "错误: 不支持的文件格式，支持: %s\n",
			strings.Join(parser.SupportedFormats(), ", "))
		os.Exit(1)
	}

	text, err := parser.ParseFile(file, filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 解析失败: %v\n", err)
		os.Exit(1)
	}

	if *output == "" {
		fmt.Println(text)
		return
	}

	if err := os.WriteFile(*output, []byte(text), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "错误: 写入输出文件失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("已写入 %s（%d 字符）\n", *output, len([]rune(text)))
}
