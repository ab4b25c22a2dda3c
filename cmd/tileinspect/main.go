package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/annel0/tile-engine/internal/config"
	"github.com/annel0/tile-engine/internal/logging"
	"github.com/annel0/tile-engine/internal/placement"
	"github.com/annel0/tile-engine/internal/render"
	"github.com/annel0/tile-engine/internal/storage"
)

// tileinspect — офлайн-инспектор сохранённых наборов тайлов: перечисляет
// наборы, перестраивает выбранный набор без визуализации и прогоняет
// проверку целостности перекрёстных структур.
func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигурации (необязательно)")
	dataPath := flag.String("data", "", "каталог данных (перекрывает конфигурацию)")
	setName := flag.String("set", "", "имя набора для инспекции")
	list := flag.Bool("list", false, "перечислить сохранённые наборы")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Ошибка загрузки конфигурации: %v", err)
		}
		cfg = loaded
	}

	if err := logging.InitLogger(cfg.Log.Dir); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseLogger()

	path := cfg.Storage.GetDataPath()
	if *dataPath != "" {
		path = *dataPath
	}

	repo, err := storage.NewBadgerTileSetRepo(path)
	if err != nil {
		log.Fatalf("Ошибка открытия хранилища %s: %v", path, err)
	}
	defer repo.Close()

	ctx := context.Background()

	if *list {
		names, err := repo.ListTileSets(ctx)
		if err != nil {
			log.Fatalf("Ошибка перечисления наборов: %v", err)
		}
		if len(names) == 0 {
			fmt.Println("Сохранённых наборов нет")
			return
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	if *setName == "" {
		flag.Usage()
		os.Exit(2)
	}

	engine, err := placement.NewEngine(render.NullRenderer{}, render.StaticGeometry{}, nil, cfg.Engine)
	if err != nil {
		log.Fatalf("Ошибка создания движка: %v", err)
	}

	if err := engine.LoadFrom(ctx, repo, *setName); err != nil {
		log.Fatalf("Ошибка загрузки набора «%s»: %v", *setName, err)
	}

	fmt.Println(engine.Stats())

	report := engine.Validate()
	fmt.Println(report)
	for _, issue := range report.Errors {
		fmt.Printf("  ERROR %s\n", issue)
	}
	for _, issue := range report.Warnings {
		fmt.Printf("  WARN  %s\n", issue)
	}
	if !report.OK() {
		os.Exit(1)
	}
}
