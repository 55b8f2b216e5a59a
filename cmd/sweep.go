package cmd

import (
	"context"
	"fmt"
	"time"

	"MediaGuard/core/ingest"
	"MediaGuard/db"
	"MediaGuard/repository"

	"github.com/spf13/cobra"
)

var (
	sweepDelete bool
	sweepMinAge time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "查找上传目录中没有记录的文件",
	Long:  `列出上传目录中不属于任何媒体记录的文件（例如删除记录时未能清理的文件），加 --delete 删除它们。修改时间在 --min-age 以内的文件会被跳过，避免误删正在上传、尚未建立记录的文件。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		gdb, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		recs, err := repository.NewGormMediaRepository(gdb).List(ctx)
		if err != nil {
			return err
		}
		known := make([]string, 0, len(recs))
		for _, rec := range recs {
			known = append(known, rec.StoragePath)
		}

		var cutoff time.Time
		if sweepMinAge > 0 {
			cutoff = time.Now().Add(-sweepMinAge)
		}
		orphans, err := ingest.FindOrphans(cfg.UploadDir, known, cutoff)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("没有孤立文件")
			return nil
		}

		var total int64
		for _, o := range orphans {
			total += o.Size
			fmt.Printf("%-60s %12d  %s\n", o.Path, o.Size, time.Unix(o.ModTime, 0).Format(time.RFC3339))
		}
		fmt.Printf("\n共 %d 个孤立文件, %d 字节\n", len(orphans), total)

		if !sweepDelete {
			return nil
		}
		failed := 0
		for _, o := range orphans {
			if err := ingest.Remove(o.Path); err != nil {
				fmt.Printf("删除失败 %s: %v\n", o.Path, err)
				failed++
			}
		}
		fmt.Printf("已删除 %d 个文件\n", len(orphans)-failed)
		if failed > 0 {
			return fmt.Errorf("%d 个文件删除失败", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolVarP(&sweepDelete, "delete", "d", false, "删除找到的孤立文件")
	sweepCmd.Flags().DurationVar(&sweepMinAge, "min-age", time.Hour, "只处理修改时间早于该时长的文件，0 表示不过滤")

	sweepCmd.Example = `  # 列出孤立文件
  mediaguard sweep

  # 删除孤立文件
  mediaguard sweep -d

  # 删除 10 分钟前的孤立文件
  mediaguard sweep -d --min-age 10m`
}
